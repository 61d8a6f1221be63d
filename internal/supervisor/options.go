package supervisor

import (
	"log/slog"
	"time"

	"github.com/Dicklesworthstone/zek/internal/broker"
	"github.com/Dicklesworthstone/zek/internal/history"
)

// Defaults applied by New.
const (
	DefaultInterval = time.Second
	DefaultCapacity = history.DefaultCapacity
	DefaultQueue    = broker.DefaultQueue
)

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithInterval sets the pause between the end of one tick and the start of
// the next.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.interval = d }
}

// WithHistoryCapacity sets how many snapshots are retained.
func WithHistoryCapacity(n int) Option {
	return func(s *Supervisor) { s.capacity = n }
}

// WithQueue sets the per-subscriber buffer size.
func WithQueue(n int) Option {
	return func(s *Supervisor) { s.queue = n }
}

// WithCollectTimeout bounds every raw read. Zero disables the bound.
func WithCollectTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.collectTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}
