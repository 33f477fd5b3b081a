// Package events delivers reminder events to attached front-end listeners.
//
// Contract:
//   - Publish never blocks.
//   - Listeners get buffered channels; a slow listener misses events.
//   - With no listener attached, events are dropped (no queueing).
package events

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"medremind/pkg/reminders"
)

const defaultBuffer = 8

// Hub is an observer registry of listener channels.
type Hub struct {
	log zerolog.Logger

	mu        sync.RWMutex
	listeners map[uint64]chan reminders.Event
	seq       atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:       log.With().Str("component", "events").Logger(),
		listeners: map[uint64]chan reminders.Event{},
	}
}

// Publish delivers the event to every attached listener with room in its buffer.
// It returns the number of listeners that received it.
func (h *Hub) Publish(e reminders.Event) int {
	// Detach can't close a channel while the read lock is held
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.listeners) == 0 {
		h.dropped.Add(1)
		h.log.Debug().Str("event", e.Event).Int64("id", e.ID).Msg("No listener attached, dropping event")
		return 0
	}

	delivered := 0
	for _, ch := range h.listeners {
		select {
		case ch <- e:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Attach registers a listener. The returned detach function closes the channel; it's safe to call more than once.
func (h *Hub) Attach(buffer int) (<-chan reminders.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan reminders.Event, buffer)
	id := h.seq.Add(1)

	h.mu.Lock()
	h.listeners[id] = ch
	h.mu.Unlock()
	h.log.Debug().Uint64("listener", id).Msg("Listener attached")

	var once sync.Once
	detach := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			close(ch)
			h.mu.Unlock()
			h.log.Debug().Uint64("listener", id).Msg("Listener detached")
		})
	}
	return ch, detach
}

// Listeners returns the number of attached listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Dropped returns how many deliveries were dropped so far.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
