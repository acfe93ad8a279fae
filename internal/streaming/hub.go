package streaming

import (
	"sync"

	"github.com/google/uuid"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/metrics"
	"threatpulse/pkg/logger"
)

const defaultSubscriberBuffer = 4

// Subscriber receives snapshots on its own channel until it is removed
type Subscriber struct {
	ID string

	ch        chan *models.AggregateSnapshot
	done      chan struct{}
	closeOnce sync.Once
}

// Updates delivers snapshots. It is closed when the subscriber is removed.
func (s *Subscriber) Updates() <-chan *models.AggregateSnapshot {
	return s.ch
}

// Done is closed when the subscriber is removed
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Hub fans snapshots out to subscribers. Delivery is at most once per
// broadcast per subscriber; a subscriber whose buffer is full is dropped
// so it cannot stall the others.
type Hub struct {
	buffer int
	logger *logger.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool
}

// NewHub creates a Hub. buffer <= 0 uses the default per-subscriber buffer.
func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		buffer: buffer,
		logger: log.WithComponent("hub"),
		subs:   make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber and queues current() as its first
// snapshot. current is read under the hub lock so no broadcast can slip
// between the initial snapshot and registration.
func (h *Hub) Subscribe(current func() *models.AggregateSnapshot) *Subscriber {
	sub := &Subscriber{
		ID:   uuid.NewString(),
		ch:   make(chan *models.AggregateSnapshot, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.close()
		return sub
	}
	if current != nil {
		if snap := current(); snap != nil {
			sub.ch <- snap.Public()
		}
	}
	h.subs[sub.ID] = sub
	metrics.Subscribers.Set(float64(len(h.subs)))

	h.logger.Debug().Str("subscriber", sub.ID).Int("subscribers", len(h.subs)).Msg("subscriber added")
	return sub
}

// Unsubscribe removes a subscriber; unknown IDs are ignored
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.close()
	metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug().Str("subscriber", id).Int("subscribers", len(h.subs)).Msg("subscriber removed")
}

// Broadcast offers snap to every subscriber without blocking and
// returns how many accepted it
func (h *Hub) Broadcast(snap *models.AggregateSnapshot) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	var slow []string
	for id, sub := range h.subs {
		select {
		case sub.ch <- snap:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		metrics.BroadcastDropped.Inc()
		h.logger.Warn().Str("subscriber", id).Msg("subscriber buffer full, dropping subscriber")
		h.removeLocked(id)
	}
	return delivered
}

// Count returns the number of live subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscriber and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.subs {
		h.removeLocked(id)
	}
}
