// Package audittest provides an in-memory audit.Sink for tests.
package audittest

import (
	"context"
	"strings"
	"sync"
)

type Entry struct {
	Message string
	Level   int
}

// Recorder captures every Log call.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Log(_ context.Context, message string, level int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Message: message, Level: level})
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Levels returns the recorded levels in order.
func (r *Recorder) Levels() []int {
	var out []int
	for _, e := range r.Entries() {
		out = append(out, e.Level)
	}
	return out
}

// Find returns the first entry whose message contains substr.
func (r *Recorder) Find(substr string) (Entry, bool) {
	for _, e := range r.Entries() {
		if strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return Entry{}, false
}
