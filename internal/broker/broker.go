// Package broker fans published snapshots out to independent subscribers.
//
// Every subscription owns a bounded queue. Publish never blocks: when a
// subscriber's queue is full its oldest buffered snapshot is discarded, which
// is safe because each snapshot fully replaces the previous one.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/model"
)

// DefaultQueue is the per-subscriber buffer used when none is given.
const DefaultQueue = 16

// Stats reports fan-out activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Deliveries  uint64 `json:"deliveries"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Broker is a publish/subscribe registry for snapshots.
type Broker struct {
	logger *slog.Logger
	queue  int

	mu   sync.RWMutex
	subs map[string]*Subscription

	latest     atomic.Pointer[model.Snapshot]
	published  atomic.Uint64
	deliveries atomic.Uint64
	dropped    atomic.Uint64
}

// New creates a broker whose subscriptions buffer queue snapshots each.
// A queue below one falls back to DefaultQueue.
func New(queue int, l *slog.Logger) *Broker {
	if queue <= 0 {
		queue = DefaultQueue
	}
	return &Broker{
		logger: logger.OrDefault(l).With("component", "broker"),
		queue:  queue,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers a new subscriber. It receives every snapshot published
// after this call, in publish order, until Close.
func (b *Broker) Subscribe() *Subscription {
	s := &Subscription{
		id:     uuid.NewString(),
		ch:     make(chan *model.Snapshot, b.queue),
		broker: b,
	}

	b.mu.Lock()
	b.subs[s.id] = s
	n := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "subscriber", s.id, "subscribers", n)
	return s
}

// Publish delivers snap to every subscriber without waiting on any of them.
func (b *Broker) Publish(snap *model.Snapshot) {
	b.latest.Store(snap)
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, s := range b.subs {
		delivered, dropped := s.offer(snap)
		if delivered {
			b.deliveries.Add(1)
		}
		if dropped > 0 {
			b.dropped.Add(uint64(dropped))
			b.logger.Debug("subscriber queue full, dropped oldest", "subscriber", id, "dropped", dropped)
		}
	}
}

// Latest returns the most recently published snapshot, or nil before the
// first publish.
func (b *Broker) Latest() *model.Snapshot { return b.latest.Load() }

// Count returns the number of active subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns publish, delivery and drop counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Deliveries:  b.deliveries.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: b.Count(),
	}
}

// CloseAll closes every subscription, ending their channels.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	id     string
	broker *Broker

	mu     sync.Mutex // guards ch against send after close
	ch     chan *model.Snapshot
	closed bool
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// C returns the receive channel. It is closed by Close or Broker.CloseAll.
func (s *Subscription) C() <-chan *model.Snapshot { return s.ch }

// Recv waits for the next snapshot. ok is false once the subscription is
// closed or ctx is done.
func (s *Subscription) Recv(ctx context.Context) (snap *model.Snapshot, ok bool) {
	select {
	case snap, ok = <-s.ch:
		return snap, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Latest drains everything currently buffered and returns the newest
// snapshot, or nil when nothing is buffered. Older buffered snapshots are
// discarded.
func (s *Subscription) Latest() *model.Snapshot {
	var last *model.Snapshot
	for {
		select {
		case snap, ok := <-s.ch:
			if !ok {
				return last
			}
			last = snap
		default:
			return last
		}
	}
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.broker.remove(s.id)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offer enqueues snap, evicting the oldest buffered entries until it fits.
func (s *Subscription) offer(snap *model.Snapshot) (delivered bool, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, 0
	}
	for {
		select {
		case s.ch <- snap:
			return true, dropped
		default:
		}
		select {
		case <-s.ch:
			dropped++
		default:
		}
	}
}
