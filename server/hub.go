package server

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantpulse/flowdesk/internal/metrics"
	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION HUB - Envelope fan-out with backpressure
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each subscription owns a bounded queue. A slow consumer loses its oldest
// envelopes first; one that keeps falling behind is closed outright so it
// cannot pin memory for everyone else.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Hub is the process-wide subscription registry.
type Hub struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	queueSize int
	dropLimit int
}

// Subscription is one subscriber's symbol filter plus its send queue.
type Subscription struct {
	hub     *Hub
	symbols map[string]struct{}

	queue chan *types.MetricsEnvelope

	mu      sync.Mutex
	dropped int
	closed  bool
	done    chan struct{}
}

// NewHub creates a hub with per-subscription queue bounds.
func NewHub(queueSize, dropLimit int) *Hub {
	if queueSize < 1 {
		queueSize = 64
	}
	return &Hub{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		dropLimit: dropLimit,
	}
}

// Subscribe registers a subscriber for the given symbols.
func (h *Hub) Subscribe(symbols []string) *Subscription {
	s := &Subscription{
		hub:     h,
		symbols: make(map[string]struct{}, len(symbols)),
		queue:   make(chan *types.MetricsEnvelope, h.queueSize),
		done:    make(chan struct{}),
	}
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	return s
}

// Unsubscribe removes the subscription and releases its queue
// synchronously.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	metrics.Subscribers.Set(float64(n))

	s.terminate()
	// Drain whatever was queued so buffers are reclaimable immediately.
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// Publish delivers an envelope to every matching subscription. Delivery
// iterates a snapshot of the registry so subscribe/unsubscribe during
// fan-out cannot deadlock or skip anyone.
func (h *Hub) Publish(env *types.MetricsEnvelope) {
	h.mu.Lock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	for _, s := range snapshot {
		if !s.Wants(env.Symbol) {
			continue
		}
		if overLimit := s.offer(env, h.dropLimit); overLimit {
			log.Warn().Str("symbol", env.Symbol).Int("dropped", s.Dropped()).
				Msg("Subscriber too slow, closing")
			metrics.SubscriberCloses.Inc()
			h.Unsubscribe(s)
		}
	}
}

// Count returns the number of registered subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ── Subscription ──────────────────────────────────────────────────────────────

// Wants reports whether the subscription covers a symbol.
func (s *Subscription) Wants(symbol string) bool {
	_, ok := s.symbols[symbol]
	return ok
}

// Queue is the consumer side of the send queue.
func (s *Subscription) Queue() <-chan *types.MetricsEnvelope {
	return s.queue
}

// Done is closed when the hub terminates the subscription (drop limit
// exceeded or unsubscribe).
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many envelopes this subscriber has lost.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer enqueues an envelope, dropping the oldest queued one on overflow.
// Returns true once the drop count exceeds the limit.
func (s *Subscription) offer(env *types.MetricsEnvelope, dropLimit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- env:
		return false
	default:
	}

	// Queue full: drop the oldest, then retry once. The consumer may have
	// raced us and made room, in which case nothing is lost.
	select {
	case <-s.queue:
		s.dropped++
		metrics.SubscriberDrops.Inc()
	default:
	}
	select {
	case s.queue <- env:
	default:
		s.dropped++
		metrics.SubscriberDrops.Inc()
	}

	return dropLimit > 0 && s.dropped > dropLimit
}

func (s *Subscription) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}
