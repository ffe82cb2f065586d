package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types fanned out to admin subscribers.
const (
	TypeAdmission    = "admission"
	TypeLike         = "like"
	TypeVerification = "verification"
	TypeGroup        = "group"
	TypeLimit        = "limit"
	TypeBroadcast    = "broadcast"
)

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

type subscriber struct {
	types map[string]struct{}
}

func (s subscriber) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// Hub fans events out to in-process subscribers. Slow subscribers lose events
// rather than stalling publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan Event]subscriber
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]subscriber{}}
}

// Subscribe returns a channel receiving events of the given types, or all events when
// none are given.
func (h *Hub) Subscribe(buffer int, types ...string) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	sub := subscriber{}
	for _, t := range types {
		if t == "" {
			continue
		}
		if sub.types == nil {
			sub.types = map[string]struct{}{}
		}
		sub.types[t] = struct{}{}
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = sub
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, sub := range h.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events discarded because a subscriber buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
