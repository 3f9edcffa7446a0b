package script

import (
	"cmp"
	"context"
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	// MaxKeyEvents bounds the key events kept by the story-memory stage
	MaxKeyEvents = 20
	// SummaryThreshold is the history length after which a summary is built
	SummaryThreshold = 10
)

type keyPhrase struct {
	re       *regexp.Regexp
	critical bool
}

func phrase(pattern string, critical bool) keyPhrase {
	return keyPhrase{re: regexp.MustCompile(`(?i).{0,50}(?:` + pattern + `).{0,50}`), critical: critical}
}

var keyPhrases = []keyPhrase{
	phrase(`discovers?\s+that`, false),
	phrase(`reveals?\s+that`, false),
	phrase(`decides?\s+to`, false),
	phrase(`promises?\s+to`, false),
	phrase(`suddenly`, false),
	phrase(`finally`, false),
	phrase(`realizes?\s+that`, false),
	phrase(`confronts?`, false),
	phrase(`defeats?`, false),
	phrase(`dies?|death|killed`, true),
	phrase(`married?|wedding`, true),
	phrase(`born|birth`, true),
	phrase(`war|battle|fight`, false),
}

var capitalizedWord = regexp.MustCompile(`\b[A-Z][a-z]+\b`)

var nameStopwords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true, "There": true, "Here": true,
	"What": true, "When": true, "Where": true, "Why": true, "How": true, "Which": true, "Who": true,
	"Then": true, "Now": true, "Soon": true, "Later": true, "Before": true, "After": true,
	"Yes": true, "No": true, "But": true, "And": true, "Or": true, "So": true, "If": true,
}

// StoryMemory records key events and character mentions from responses
type StoryMemory struct {
	now func() time.Time
}

// NewStoryMemory creates the story-memory stage
func NewStoryMemory() *StoryMemory {
	return &StoryMemory{now: time.Now}
}

// Description implements Describer
func (s *StoryMemory) Description() string {
	return "Track and manage story memory and key events"
}

// Execute implements Stage
func (s *StoryMemory) Execute(_ context.Context, sc Context) (*Output, error) {
	track := sc.StoryMemory
	if track == nil {
		track = &MemoryTrack{}
	}
	if track.CharacterStates == nil {
		track.CharacterStates = map[string]*CharacterState{}
	}
	now := s.now().UnixMilli()
	out := &Output{}

	if event, critical, ok := ExtractKeyEvent(sc.CurrentResponse); ok {
		track.KeyEvents = append(track.KeyEvents, KeyEvent{
			Event:     event,
			Turn:      len(sc.StoryHistory),
			Timestamp: now,
			Critical:  critical,
		})
		if n := len(track.KeyEvents); n > MaxKeyEvents {
			track.KeyEvents = slices.Clone(track.KeyEvents[n-MaxKeyEvents:])
		}
		out.Events = append(out.Events, newEvent("key_event_recorded", map[string]any{
			"event":    event,
			"critical": critical,
		}))
	}

	for _, name := range ExtractCharacters(sc.CurrentResponse) {
		if st, ok := track.CharacterStates[name]; ok {
			st.LastMentioned = now
			st.MentionCount++
		} else {
			track.CharacterStates[name] = &CharacterState{FirstMentioned: now, LastMentioned: now, MentionCount: 1}
		}
	}

	summary := ""
	if len(sc.StoryHistory) > SummaryThreshold {
		summary = Summarize(track)
	}

	out.ContextUpdates.StoryMemory = track
	out.ContextUpdates.MemorySummary = &summary
	return out, nil
}

// ExtractKeyEvent returns the text around the first key phrase found in
// text. Death, marriage and birth events are critical.
func ExtractKeyEvent(text string) (event string, critical bool, ok bool) {
	if text == "" {
		return "", false, false
	}
	for _, kp := range keyPhrases {
		if m := kp.re.FindString(text); m != "" {
			return strings.TrimSpace(m), kp.critical, true
		}
	}
	return "", false, false
}

// ExtractCharacters returns capitalized words that look like names, once
// each, in order of appearance
func ExtractCharacters(text string) []string {
	seen := map[string]bool{}
	var names []string
	for _, w := range capitalizedWord.FindAllString(text, -1) {
		if nameStopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		names = append(names, w)
	}
	return names
}

// Summarize renders the last five key events and the five most mentioned
// characters
func Summarize(track *MemoryTrack) string {
	var parts []string

	if n := len(track.KeyEvents); n > 0 {
		recent := track.KeyEvents[max(0, n-5):]
		events := make([]string, 0, len(recent))
		for _, e := range recent {
			events = append(events, e.Event)
		}
		parts = append(parts, "Recent events: "+strings.Join(events, "; "))
	}

	names := make([]string, 0, len(track.CharacterStates))
	for name := range track.CharacterStates {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		sa, sb := track.CharacterStates[a], track.CharacterStates[b]
		if c := cmp.Compare(sb.MentionCount, sa.MentionCount); c != 0 {
			return c
		}
		if c := cmp.Compare(sa.FirstMentioned, sb.FirstMentioned); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(names) > 5 {
		names = names[:5]
	}
	if len(names) > 0 {
		parts = append(parts, "Key characters: "+strings.Join(names, ", "))
	}

	return strings.Join(parts, "\n")
}
