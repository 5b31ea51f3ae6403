// Package diagnostics keeps a bounded, gated trace of synchronization activity.
package diagnostics

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultCapacity = 500

// Phase tags where in the engine an entry was written.
type Phase string

const (
	PhaseJournalize Phase = "journalize"
	PhasePull       Phase = "pull"
	PhaseMerge      Phase = "merge"
	PhasePush       Phase = "push"
	PhaseRebind     Phase = "rebind"
	PhaseDrop       Phase = "drop"
	PhaseRun        Phase = "run"
)

// Entry is one trace record.
type Entry struct {
	Timestamp      time.Time `json:"timestamp"`
	Phase          Phase     `json:"phase"`
	Provider       string    `json:"provider,omitempty"`
	RunID          string    `json:"runId,omitempty"`
	EventID        string    `json:"eventId,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Message        string    `json:"message"`
	Before         string    `json:"before,omitempty"`
	After          string    `json:"after,omitempty"`
}

// String renders every field; Search matches against this form.
func (entry Entry) String() string {
	return fmt.Sprintf("%s phase=%s provider=%s run=%s event=%s key=%s msg=%s before=%s after=%s",
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Phase, entry.Provider, entry.RunID, entry.EventID, entry.IdempotencyKey,
		entry.Message, entry.Before, entry.After)
}

// Recorder is what writers depend on.
type Recorder interface {
	Record(entry Entry)
}

// Ring is a fixed-capacity circular log. Writes are dropped while tracing is off.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	trace   bool
	clock   func() time.Time
}

// NewRing builds a Ring. A non-positive capacity falls back to the default.
func NewRing(capacity int, trace bool) *Ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Ring{entries: make([]Entry, capacity), trace: trace, clock: time.Now}
}

// SetTrace toggles recording.
func (r *Ring) SetTrace(enabled bool) {
	r.mu.Lock()
	r.trace = enabled
	r.mu.Unlock()
}

// Tracing reports whether recording is on.
func (r *Ring) Tracing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trace
}

// Record appends the entry, overwriting the oldest when full. Nil-safe.
func (r *Ring) Record(entry Entry) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.trace {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.clock().UTC()
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Dump returns every retained entry, oldest first.
func (r *Ring) Dump() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedLocked()
}

// Search returns retained entries whose rendered form contains query, case-insensitively.
func (r *Ring) Search(query string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.orderedLocked()
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return all
	}
	matches := make([]Entry, 0, len(all))
	for _, entry := range all {
		if strings.Contains(strings.ToLower(entry.String()), needle) {
			matches = append(matches, entry)
		}
	}
	return matches
}

// Len reports how many entries are retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

func (r *Ring) orderedLocked() []Entry {
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	ordered := make([]Entry, 0, len(r.entries))
	ordered = append(ordered, r.entries[r.next:]...)
	return append(ordered, r.entries[:r.next]...)
}
