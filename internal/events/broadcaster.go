// Package events fans out change notifications to explicit subscribers.
package events

import (
	"sync"
	"time"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/metrics"
)

// Change kinds published by the recent files store.
const (
	RecentAdded   = "recent_added"
	RecentRemoved = "recent_removed"
	RecentCleared = "recent_cleared"
)

// Event describes one committed change. Count is the number of entries
// after the change.
type Event struct {
	Type      string    `json:"type"`
	SSID      string    `json:"ssid,omitempty"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Broadcaster delivers events to subscriber channels without blocking the
// publisher.
type Broadcaster struct {
	buffer int

	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold
// buffer events. A non-positive buffer selects DefaultBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{buffer: buffer, subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new channel. Call Unsubscribe to release it.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
	return ch
}

// Unsubscribe removes ch and closes it. Unknown or already removed
// channels are ignored.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	if ok {
		delete(b.subs, ch)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	if ok {
		metrics.SetSubscribers(n)
	}
}

// Publish stamps event if needed and offers it to every subscriber. A
// subscriber whose buffer is full misses it.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- event:
			metrics.RecordEvent(event.Type, true)
		default:
			metrics.RecordEvent(event.Type, false)
			logging.Debug("event dropped for slow subscriber", logging.String("type", event.Type))
		}
	}
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
