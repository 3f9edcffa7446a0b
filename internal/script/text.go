package script

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// fold case-folds s for caseless comparison. Casers are stateful, so one is
// built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// containsKeyword reports whether text contains keyword, ignoring case
func containsKeyword(text, keyword string) bool {
	if text == "" || keyword == "" {
		return false
	}
	return strings.Contains(fold(text), fold(keyword))
}

// turnText joins the player input and the model response
func turnText(sc *Context) string {
	return sc.CurrentInput + " " + sc.CurrentResponse
}
