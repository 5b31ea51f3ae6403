package clock

import (
	"testing"
	"time"
)

func TestSequencerNeverGoesBackwards(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	readings := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	index := 0
	sequencer := NewSequencer(func() time.Time {
		reading := readings[index]
		if index < len(readings)-1 {
			index++
		}
		return reading
	}, 0)

	first := sequencer.Now()
	second := sequencer.Now()
	if second.Before(first) {
		t.Fatalf("expected monotonic time, got %s after %s", second, first)
	}
	third := sequencer.Now()
	if !third.Equal(base.Add(time.Second)) {
		t.Fatalf("expected clock to advance again, got %s", third)
	}
}

func TestSequencerIssuesIncreasingSequences(t *testing.T) {
	frozen := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	sequencer := NewSequencer(func() time.Time { return frozen }, 0)

	previous := sequencer.Next()
	for i := 0; i < 100; i++ {
		next := sequencer.Next()
		if next <= previous {
			t.Fatalf("sequence did not increase: %d then %d", previous, next)
		}
		previous = next
	}
}

func TestSequencerRespectsSeedAndObserve(t *testing.T) {
	frozen := time.Unix(10, 0)
	seed := frozen.UnixMicro() + 500
	sequencer := NewSequencer(func() time.Time { return frozen }, seed)
	if got := sequencer.Next(); got != seed+1 {
		t.Fatalf("expected %d, got %d", seed+1, got)
	}
	sequencer.Observe(seed + 100)
	if got := sequencer.Next(); got != seed+101 {
		t.Fatalf("expected %d, got %d", seed+101, got)
	}
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	first := IdempotencyKey("evt-1", 42)
	if first != IdempotencyKey("evt-1", 42) {
		t.Fatalf("expected identical keys for identical input")
	}
	if first == IdempotencyKey("evt-1", 43) || first == IdempotencyKey("evt-2", 42) {
		t.Fatalf("expected distinct keys for distinct input")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256 key, got %d chars", len(first))
	}
}
