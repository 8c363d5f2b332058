package sagasync

import (
	"sync"
)

const (
	EventBookUpserted   = "book.upserted"
	EventSeriesUpserted = "series.upserted"
	EventCascadeApplied = "cascade.applied"
)

// Event is one entry in the progress feed consumed by stream subscribers.
type Event struct {
	Type          string `json:"type"`
	ASIN          string `json:"asin,omitempty"`
	SeriesKey     string `json:"seriesKey,omitempty"`
	Status        Status `json:"status,omitempty"`
	UpdatedBooks  int    `json:"updatedBooks,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// EventBus fans events out to subscribers. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel function. Cancel closes the
// channel and detaches the subscriber.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (b *EventBus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
