package script

import (
	"container/list"
	"encoding/json"
	"unicode/utf8"
)

const (
	// MaxLogEntries bounds the execution log
	MaxLogEntries = 100
	// MaxLoggedString is the longest string kept verbatim in a log entry
	MaxLoggedString = 500
)

// LogEntry records one stage execution
type LogEntry struct {
	TurnID    string `json:"turnId"`
	StageName string `json:"scriptName"`
	Timestamp int64  `json:"timestamp"`
	Duration  int64  `json:"duration"`
	Input     any    `json:"input,omitempty"`
	Output    any    `json:"output,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// logRing keeps the most recent entries, evicting the oldest first
type logRing struct {
	entries  *list.List // LogEntry
	capacity int
}

func newLogRing(capacity int) *logRing {
	return &logRing{
		entries:  list.New(),
		capacity: capacity,
	}
}

// Push appends an entry, dropping the oldest when full
func (r *logRing) Push(e LogEntry) {
	r.entries.PushBack(e)
	for r.entries.Len() > r.capacity {
		r.entries.Remove(r.entries.Front())
	}
}

// All returns entries oldest first
func (r *logRing) All() []LogEntry {
	out := make([]LogEntry, 0, r.entries.Len())
	for elem := r.entries.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(LogEntry))
	}
	return out
}

// ForTurn returns the entries of one run
func (r *logRing) ForTurn(turnID string) []LogEntry {
	out := []LogEntry{}
	for elem := r.entries.Front(); elem != nil; elem = elem.Next() {
		if e := elem.Value.(LogEntry); e.TurnID == turnID {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns up to n of the newest entries, oldest first
func (r *logRing) Recent(n int) []LogEntry {
	if n <= 0 || n > r.entries.Len() {
		n = r.entries.Len()
	}
	out := make([]LogEntry, n)
	elem := r.entries.Back()
	for i := n - 1; i >= 0; i-- {
		out[i] = elem.Value.(LogEntry)
		elem = elem.Prev()
	}
	return out
}

// Len returns the number of stored entries
func (r *logRing) Len() int {
	return r.entries.Len()
}

// Clear drops every entry
func (r *logRing) Clear() {
	r.entries.Init()
}

// sanitize turns v into plain JSON data with long strings truncated
func sanitize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": "could not serialize for logging"}
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{"error": "could not serialize for logging"}
	}
	return truncateStrings(data)
}

func truncateStrings(v any) any {
	switch t := v.(type) {
	case string:
		if utf8.RuneCountInString(t) > MaxLoggedString {
			return string([]rune(t)[:MaxLoggedString-3]) + "..."
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = truncateStrings(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = truncateStrings(val)
		}
		return t
	default:
		return v
	}
}
