// Package supervisor owns the sampling cadence. One goroutine reads raw
// counters, builds a snapshot against the previous one, appends it to
// history and publishes it; consumers only ever call Subscribe, Latest,
// HistorySince and HistoryAll.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dicklesworthstone/zek/internal/broker"
	"github.com/Dicklesworthstone/zek/internal/history"
	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/model"
	"github.com/Dicklesworthstone/zek/internal/sampler"
	"github.com/Dicklesworthstone/zek/internal/snapshot"
)

var (
	// ErrInvalidConfig is returned by Start for a non-positive interval or
	// history capacity.
	ErrInvalidConfig = errors.New("invalid supervisor configuration")
	// ErrAlreadyRunning is returned by Start while the loop is running.
	ErrAlreadyRunning = errors.New("supervisor already running")
)

// Stats describes loop activity.
type Stats struct {
	Running          bool          `json:"running"`
	Interval         time.Duration `json:"interval"`
	Ticks            uint64        `json:"ticks"`
	SkippedTicks     uint64        `json:"skipped_ticks"`
	LastTickDuration time.Duration `json:"last_tick_duration"`
	LastTickAt       time.Time     `json:"last_tick_at"`
	HistoryLen       int           `json:"history_len"`
	HistoryCap       int           `json:"history_cap"`
	Broker           broker.Stats  `json:"broker"`
}

// Supervisor runs the tick loop.
type Supervisor struct {
	reader         sampler.Reader
	interval       time.Duration
	capacity       int
	queue          int
	collectTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	history *history.Store
	broker  *broker.Broker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks      atomic.Uint64
	skipped    atomic.Uint64
	lastTookNs atomic.Int64
	lastTickAt atomic.Int64 // unix ms
}

// New creates a stopped supervisor reading from r. Configuration errors are
// reported by Start.
func New(r sampler.Reader, opts ...Option) *Supervisor {
	s := &Supervisor{
		reader:   r,
		interval: DefaultInterval,
		capacity: DefaultCapacity,
		queue:    DefaultQueue,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger).With("component", "supervisor")
	s.broker = broker.New(s.queue, s.logger)
	if st, err := history.New(s.capacity); err == nil {
		s.history = st
	}
	return s
}

func (s *Supervisor) validate() error {
	if s.reader == nil {
		return fmt.Errorf("%w: no reader", ErrInvalidConfig)
	}
	if s.interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %s", ErrInvalidConfig, s.interval)
	}
	if s.history == nil {
		return fmt.Errorf("%w: history capacity must be > 0, got %d", ErrInvalidConfig, s.capacity)
	}
	if s.collectTimeout < 0 {
		return fmt.Errorf("%w: collect timeout must be >= 0, got %s", ErrInvalidConfig, s.collectTimeout)
	}
	return nil
}

// Start validates the configuration and launches the loop. The first tick
// runs immediately. The loop ends on Stop or when ctx is done.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningLocked() {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(loopCtx, done)

	s.logger.Info("supervisor started",
		"interval", s.interval,
		"history_capacity", s.capacity,
		"queue", s.queue,
		"collect_timeout", s.collectTimeout)
	return nil
}

// Stop requests the loop to end, waits for the in-flight tick to finish and
// closes every subscription. Safe to call when stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("supervisor stopped", "ticks", s.ticks.Load(), "skipped", s.skipped.Load())
}

// Running reports whether the loop is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Supervisor) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Subscribe returns a live stream of snapshots published from now on. The
// subscription's channel is closed when the loop ends, whether by Stop or by
// the Start context; snapshots still buffered can be received first.
func (s *Supervisor) Subscribe() *broker.Subscription { return s.broker.Subscribe() }

// Latest returns the most recent snapshot, or nil before the first
// successful tick.
func (s *Supervisor) Latest() *model.Snapshot { return s.broker.Latest() }

// HistorySince returns retained snapshots captured within d of now, oldest
// first.
func (s *Supervisor) HistorySince(d time.Duration) []*model.Snapshot {
	if s.history == nil {
		return []*model.Snapshot{}
	}
	return s.history.Since(d, s.now())
}

// HistoryAll returns every retained snapshot, oldest first.
func (s *Supervisor) HistoryAll() []*model.Snapshot {
	if s.history == nil {
		return []*model.Snapshot{}
	}
	return s.history.All()
}

// Stats returns loop counters.
func (s *Supervisor) Stats() Stats {
	st := Stats{
		Running:          s.Running(),
		Interval:         s.interval,
		Ticks:            s.ticks.Load(),
		SkippedTicks:     s.skipped.Load(),
		LastTickDuration: time.Duration(s.lastTookNs.Load()),
		Broker:           s.broker.Stats(),
	}
	if ms := s.lastTickAt.Load(); ms > 0 {
		st.LastTickAt = time.UnixMilli(ms)
	}
	if s.history != nil {
		st.HistoryLen, st.HistoryCap = s.history.Len(), s.history.Cap()
	}
	return st
}

// run is the loop. prev is owned here and nowhere else. The interval is
// measured from the end of a tick, so slow reads cause drift, never overlap.
func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.broker.CloseAll()

	var prev *model.Snapshot
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		// An in-flight tick finishes even if Stop arrives meanwhile.
		if next := s.tick(context.WithoutCancel(ctx), prev); next != nil {
			prev = next
		}
		timer.Reset(s.interval)
	}
}

// captureTime keeps CapturedAt strictly increasing across ticks. A wall clock
// stepped backwards, or two ticks inside one millisecond, yield prev+1ms.
func captureTime(now time.Time, prev *model.Snapshot) time.Time {
	if prev != nil && now.UnixMilli() <= prev.CapturedAt {
		return time.UnixMilli(prev.CapturedAt + 1)
	}
	return now
}

// tick performs one read-build-store-publish cycle. It returns nil when the
// read failed and the tick was skipped.
func (s *Supervisor) tick(ctx context.Context, prev *model.Snapshot) *model.Snapshot {
	started := time.Now()

	readCtx := ctx
	if s.collectTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, s.collectTimeout)
		defer cancel()
	}

	raw, err := s.reader.Read(readCtx)
	if err == nil && errors.Is(readCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: read exceeded %s", sampler.ErrSevere, s.collectTimeout)
	}
	if err != nil {
		n := s.skipped.Add(1)
		s.logger.Warn("tick skipped",
			"error", err,
			"severe", errors.Is(err, sampler.ErrSevere),
			"skipped_total", n)
		return nil
	}

	snap := snapshot.Build(raw, prev, captureTime(s.now(), prev))
	s.history.Append(snap)
	s.broker.Publish(snap)

	took := time.Since(started)
	s.ticks.Add(1)
	s.lastTookNs.Store(int64(took))
	s.lastTickAt.Store(snap.CapturedAt)
	s.logger.Debug("tick",
		"captured_at", snap.CapturedAt,
		"took", took,
		"processes", snap.ProcessCount,
		"subscribers", s.broker.Count())
	return snap
}
