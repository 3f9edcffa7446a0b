// Package validation checks request-level input before it reaches the core.
// Every failure is an apperr validation error.
package validation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/qninhdt/storycards/internal/apperr"
)

const (
	// MaxPlayerInput is the longest accepted player input, in characters
	MaxPlayerInput = 4000
	// MaxNameLength bounds card and session names
	MaxNameLength = 128
	// MaxTagLength bounds a single tag
	MaxTagLength = 64
	// MaxProgressPoints bounds one progression award
	MaxProgressPoints = 1000
)

var (
	tagPattern       = regexp.MustCompile(`^[\p{L}\p{N} _:-]+$`)
	stageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ParseID parses a positive integer id from a path or flag value
func ParseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s id: %q", kind, raw)
	}
	return id, nil
}

// ValidateSessionID validates a session id
func ValidateSessionID(id int64) error {
	if id <= 0 {
		return apperr.Validation("sessionId is required")
	}
	return nil
}

// ValidatePlayerInput validates the text a player submits for a turn
func ValidatePlayerInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return apperr.Validation("playerInput is required")
	}
	if utf8.RuneCountInString(input) > MaxPlayerInput {
		return apperr.Validation("playerInput must be at most %d characters", MaxPlayerInput)
	}
	return nil
}

// ValidateName validates a card or session name. Empty names are allowed
// when optional is set.
func ValidateName(name string, optional bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		if optional {
			return nil
		}
		return apperr.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return apperr.Validation("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidateTag validates a free-form card tag
func ValidateTag(tag string) error {
	if tag == "" || utf8.RuneCountInString(tag) > MaxTagLength {
		return apperr.Validation("tag must be 1-%d characters", MaxTagLength)
	}
	if !tagPattern.MatchString(tag) {
		return apperr.Validation("tag can only contain letters, digits, spaces, underscores, colons and hyphens")
	}
	return nil
}

// ValidateStageName validates a script pipeline stage name
func ValidateStageName(name string) error {
	if name == "" || len(name) > 64 || !stageNamePattern.MatchString(name) {
		return apperr.Validation("invalid script name: %q", name)
	}
	return nil
}

// ValidateProgress validates a progression point award
func ValidateProgress(points int) error {
	if points <= 0 || points > MaxProgressPoints {
		return apperr.Validation("points must be between 1 and %d", MaxProgressPoints)
	}
	return nil
}

// ValidateTriggerIndex validates the syntax of a trigger index. Range is not
// checked; out-of-range indexes are a no-op in the store.
func ValidateTriggerIndex(raw string) (int, error) {
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0, apperr.Validation("invalid trigger index: %q", raw)
	}
	return i, nil
}
