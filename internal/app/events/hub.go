package events

import (
	"sync"

	"github.com/reviewgame/server/pkg/logger"
)

// subscriberBuffer bounds how far a consumer may fall behind before
// events are dropped for it.
const subscriberBuffer = 16

// Hub is the in-process fan-out. Publishing never blocks on a slow
// consumer; a subscriber that cannot keep up loses events and is expected
// to refetch the game snapshot.
type Hub struct {
	log *logger.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch chan Event
}

// NewHub returns an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Hub{
		log:  log,
		subs: make(map[string]map[*subscription]struct{}),
	}
}

// Publish delivers the event to every subscriber of the game's channel.
func (h *Hub) Publish(gameID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[gameID] {
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer; drop rather than stall the game.
		}
	}
}

// Subscribe registers a consumer for one game's events. The returned
// cancel function must be called when the consumer goes away; it closes
// the channel.
func (h *Hub) Subscribe(gameID string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[gameID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[gameID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[gameID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, gameID)
				}
			}
			h.mu.Unlock()
			// No publisher can hold the channel now; safe to close.
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Subscribers reports how many consumers are attached to a game channel.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[gameID])
}
