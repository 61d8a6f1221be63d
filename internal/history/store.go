// Package history keeps a bounded, chronologically ordered window of recent
// snapshots.
package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dicklesworthstone/zek/internal/model"
)

// DefaultCapacity retains one hour at one sample per second.
const DefaultCapacity = 3600

// ErrInvalidCapacity is returned by New for a capacity below one.
var ErrInvalidCapacity = errors.New("history capacity must be positive")

// Store is a fixed-capacity ring of snapshots. Appends evict the oldest entry
// once full. The lock is held only for the write or the copy-out.
type Store struct {
	mu      sync.Mutex
	entries []*model.Snapshot
	head    int // next write position
	count   int
}

// New creates a store holding at most capacity snapshots.
func New(capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Store{entries: make([]*model.Snapshot, capacity)}, nil
}

// Append inserts s, evicting the oldest entry when the store is full.
func (st *Store) Append(s *model.Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.entries[st.head] = s
	st.head = (st.head + 1) % len(st.entries)
	if st.count < len(st.entries) {
		st.count++
	}
}

// All returns every retained snapshot, oldest first.
func (st *Store) All() []*model.Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.copyFrom(0)
}

// Since returns snapshots captured at or after now-d, oldest first.
func (st *Store) Since(d time.Duration, now time.Time) []*model.Snapshot {
	cutoff := now.Add(-d).UnixMilli()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Entries are chronological, so find the first one inside the window.
	skip := 0
	for skip < st.count && st.at(skip).CapturedAt < cutoff {
		skip++
	}
	return st.copyFrom(skip)
}

// Latest returns the most recently appended snapshot, or nil.
func (st *Store) Latest() *model.Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.count == 0 {
		return nil
	}
	return st.at(st.count - 1)
}

// Len returns the number of retained snapshots.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.count
}

// Cap returns the fixed capacity.
func (st *Store) Cap() int { return len(st.entries) }

// at returns the i-th oldest entry. Caller holds mu.
func (st *Store) at(i int) *model.Snapshot {
	start := 0
	if st.count == len(st.entries) {
		start = st.head // head points to oldest when full
	}
	return st.entries[(start+i)%len(st.entries)]
}

// copyFrom copies entries [skip, count) into a new slice. Caller holds mu.
func (st *Store) copyFrom(skip int) []*model.Snapshot {
	out := make([]*model.Snapshot, 0, st.count-skip)
	for i := skip; i < st.count; i++ {
		out = append(out, st.at(i))
	}
	return out
}
