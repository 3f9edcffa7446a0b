package prompt

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/qninhdt/storycards/internal/cards"
)

const (
	// EssenceLimit is the longest text used verbatim as an essence
	EssenceLimit = 200
	// CharsPerToken is the token estimate ratio
	CharsPerToken = 4
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Essence compresses a card to a short line for ancestor context. A stored
// compressed prompt wins; otherwise short text is kept, then the first
// paragraph, then a 197-character cut with an ellipsis.
func Essence(c *cards.Card) string {
	if c.CompressedPrompt != "" {
		return c.CompressedPrompt
	}
	text := strings.TrimSpace(c.PromptText)
	if utf8.RuneCountInString(text) <= EssenceLimit {
		return text
	}
	first := strings.TrimSpace(paragraphBreak.Split(text, 2)[0])
	if utf8.RuneCountInString(first) <= EssenceLimit {
		return first
	}
	return string([]rune(text)[:EssenceLimit-3]) + "..."
}

// EstimateTokens approximates the token count of text at four characters per token
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}
