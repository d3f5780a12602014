// Package bus is the in-process messaging handle shared by every parser.
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the core.
const (
	TypeUtteranceContext = "utterance.context"
	TypeParserFailed     = "parser.failed"
	TypeParserLoaded     = "parser.loaded"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"` // JSON payload
}

// Bus is the publish/subscribe handle handed to parsers at bind time.
type Bus interface {
	Publish(eventType string, data any)
	Subscribe() (<-chan Event, func())
}

const (
	defaultHistory    = 100
	subscriberBacklog = 128
)

// Hub fans events out to subscribers and keeps the most recent ones so a
// reconnecting client can catch up. IDs are strictly increasing in the order
// events reach the history and every subscriber.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	history []Event // ring; oldest at head once full
	head    int
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan Event
	closed bool
}

var _ Bus = (*Hub)(nil)

// NewHub keeps up to history events for SnapshotSince.
func NewHub(history int) *Hub {
	if history <= 0 {
		history = defaultHistory
	}
	return &Hub{
		history: make([]Event, 0, history),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish assigns the next ID and delivers the event. Payloads that cannot be
// encoded are published as an empty object. Slow subscribers miss events
// rather than stalling the publisher.
func (h *Hub) Publish(eventType string, data any) {
	payload := encode(data)
	at := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: at, Data: payload}
	h.remember(ev)
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe returns a buffered channel of future events and an idempotent
// cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBacklog)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(h.subs, sub)
		close(sub.ch)
	}
	return sub.ch, cancel
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
// lastID 0 returns everything retained.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.history)
	out := make([]Event, 0, n)
	for i := range n {
		ev := h.history[(h.head+i)%n]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) remember(ev Event) {
	if len(h.history) < cap(h.history) {
		h.history = append(h.history, ev)
		return
	}
	h.history[h.head] = ev
	h.head = (h.head + 1) % len(h.history)
}

func encode(data any) json.RawMessage {
	if data == nil {
		return json.RawMessage(`{}`)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
