// Package clock produces the monotonic timestamps and sequence numbers used
// to build journal idempotency keys.
package clock

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// Sequencer issues non-decreasing timestamps and strictly increasing sequences.
type Sequencer struct {
	mu       sync.Mutex
	now      func() time.Time
	lastTime time.Time
	lastSeq  int64
}

// NewSequencer builds a Sequencer. Sequences continue above seed, which is
// typically the highest sequence already persisted.
func NewSequencer(now func() time.Time, seed int64) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{now: now, lastSeq: seed}
}

// Now returns the current UTC time, never earlier than a previously returned value.
func (s *Sequencer) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked()
}

// Next returns the next sequence number. Sequences track wall-clock
// microseconds when the clock is ahead of the counter.
func (s *Sequencer) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := s.nowLocked().UnixMicro()
	if candidate <= s.lastSeq {
		candidate = s.lastSeq + 1
	}
	s.lastSeq = candidate
	return candidate
}

// Observe raises the counter so that later sequences exceed value.
func (s *Sequencer) Observe(value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value > s.lastSeq {
		s.lastSeq = value
	}
}

func (s *Sequencer) nowLocked() time.Time {
	current := s.now().UTC()
	if current.Before(s.lastTime) {
		return s.lastTime
	}
	s.lastTime = current
	return current
}

// IdempotencyKey derives the journal key for (eventID, sequence).
func IdempotencyKey(eventID string, sequence int64) string {
	sum := sha256.Sum256([]byte(eventID + "|" + strconv.FormatInt(sequence, 10)))
	return hex.EncodeToString(sum[:])
}
