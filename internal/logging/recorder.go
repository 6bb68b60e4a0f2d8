package logging

import (
	"fmt"
	"sync"
)

// Entry is a single captured log call.
type Entry struct {
	Level   string
	Message string
	Attrs   map[string]any
}

// Recorder is a Logger that keeps every entry in memory.
// It is intended for tests. Recorder is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Logger = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Debug(msg string, args ...any) { r.record("debug", msg, args) }
func (r *Recorder) Info(msg string, args ...any)  { r.record("info", msg, args) }
func (r *Recorder) Warn(msg string, args ...any)  { r.record("warn", msg, args) }
func (r *Recorder) Error(msg string, args ...any) { r.record("error", msg, args) }

func (r *Recorder) record(level, msg string, args []any) {
	attrs := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		attrs[fmt.Sprint(args[i])] = args[i+1]
	}

	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, Attrs: attrs})
	r.mu.Unlock()
}

// Entries returns a copy of all captured entries in call order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many entries match level and message.
// An empty level or message matches anything.
func (r *Recorder) Count(level, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if (level == "" || e.Level == level) && (msg == "" || e.Message == msg) {
			n++
		}
	}
	return n
}

// Find returns the first entry with the given message.
func (r *Recorder) Find(msg string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Message == msg {
			return e, true
		}
	}
	return Entry{}, false
}
