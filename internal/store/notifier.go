package store

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
)

// Origin tells who mutated the store.
type Origin string

const (
	// OriginLocal marks edits arriving through the external edit path.
	OriginLocal Origin = "local"
	// OriginSync marks merges, deletes and rebinds applied by the orchestrator.
	OriginSync Origin = "sync"
)

// ChangeSignal announces that the local event set changed.
type ChangeSignal struct {
	Origin    Origin
	EventIDs  []calendar.EventID
	Timestamp time.Time
}

// Notifier fans change signals out to subscribers. Publishing never blocks;
// a subscriber whose buffer is full misses the signal, which is safe because
// consumers re-read the whole store.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[int64]chan ChangeSignal
	nextID      int64
	bufferSize  int
}

// NewNotifier constructs an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[int64]chan ChangeSignal),
		bufferSize:  1,
	}
}

// Subscribe registers a listener that lives until ctx is done or cleanup is called.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan ChangeSignal, func()) {
	stream := make(chan ChangeSignal, n.bufferSize)
	n.mu.Lock()
	n.nextID++
	subscriberID := n.nextID
	n.subscribers[subscriberID] = stream
	n.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subscribers, subscriberID)
			n.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers the signal to every subscriber without blocking.
func (n *Notifier) Publish(signal ChangeSignal) {
	if n == nil {
		return
	}
	n.mu.RLock()
	streams := make([]chan ChangeSignal, 0, len(n.subscribers))
	for _, stream := range n.subscribers {
		streams = append(streams, stream)
	}
	n.mu.RUnlock()
	for _, stream := range streams {
		select {
		case stream <- signal:
		default:
		}
	}
}
