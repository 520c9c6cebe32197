package dedup

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the in-memory deduper discards its
// entire key set. Provider retries arrive within minutes, so an hourly
// wholesale sweep bounds memory without risking duplicate application.
const DefaultSweepInterval = time.Hour

// Memory is an in-process Deduper backed by a map. Suitable for a single
// instance; use Redis when running more than one replica.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemory creates an empty in-memory deduper.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// MarkProcessed implements Deduper.
func (m *Memory) MarkProcessed(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

// Sweep discards all recorded keys and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.seen)
	m.seen = make(map[string]struct{})
	return n
}

// Len returns the number of recorded keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// RunSweeper clears the deduper every interval until ctx is canceled.
// Intended to be run in an errgroup alongside the HTTP server; cancellation
// is a normal shutdown, not an error.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}
