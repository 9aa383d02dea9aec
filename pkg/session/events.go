package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicelab-dev/simlens/pkg/rules"
)

// EventType names a session event.
type EventType string

// Event types, in the order a capture produces them.
const (
	EventStarted    EventType = "started"
	EventCaptured   EventType = "captured"
	EventAnalyzed   EventType = "analyzed"
	EventIssueFound EventType = "issue_found"
	EventPatched    EventType = "patched"
	EventError      EventType = "error"
	EventStopped    EventType = "stopped"
)

// Event is one thing that happened during a session.
type Event struct {
	Type            EventType    `json:"type"`
	Time            time.Time    `json:"time"`
	SessionID       string       `json:"sessionId,omitempty"`
	CaptureID       string       `json:"captureId,omitempty"`
	Device          string       `json:"device,omitempty"`
	Screen          string       `json:"screen,omitempty"`
	Issue           *rules.Issue `json:"issue,omitempty"`
	Counts          rules.Counts `json:"counts"`
	Recommendations int          `json:"recommendations,omitempty"`
	Edits           int          `json:"edits,omitempty"`
	Message         string       `json:"message,omitempty"`
}

// DefaultBuffer is the per-subscriber queue length used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose queue is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber with room for it. A nil bus
// drops everything.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
