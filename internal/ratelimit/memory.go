package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"pollcast/pkg/interfaces"
)

// DefaultWindow is the minimum interval between two accepted votes from the
// same (poll, source address) pair.
const DefaultWindow = 10 * time.Second

var (
	_ interfaces.RateLimiter = (*MemoryLimiter)(nil)
	_ interfaces.Sweeper     = (*MemoryLimiter)(nil)
)

// entryKey identifies one rate-limit entry
type entryKey struct {
	pollID string
	source string
}

// MemoryLimiter keeps the last accepted vote time per (poll, source) pair in
// process memory.
// ARCHITECTURAL DISCOVERY: One mutex is enough; votes are limited to one per
// window per source so hold times are tiny compared to arrival rate
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	clock   clockwork.Clock
	entries map[entryKey]time.Time
}

// NewMemoryLimiter creates a limiter with the given window. A nil clock
// selects the real clock.
func NewMemoryLimiter(window time.Duration, clock clockwork.Clock) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLimiter{
		window:  window,
		clock:   clock,
		entries: make(map[entryKey]time.Time),
	}
}

// Admit implements interfaces.RateLimiter using the limiter's clock.
func (l *MemoryLimiter) Admit(ctx context.Context, pollID, sourceAddress string) (bool, error) {
	return l.AdmitAt(pollID, sourceAddress, l.clock.Now()), nil
}

// AdmitAt decides admission at an explicit instant.
// FUNCTIONAL DISCOVERY: A rejection leaves the stored timestamp untouched so
// a flood of attempts cannot keep pushing the window forward
func (l *MemoryLimiter) AdmitAt(pollID, sourceAddress string, now time.Time) bool {
	key := entryKey{pollID: pollID, source: sourceAddress}

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, exists := l.entries[key]; exists && now.Sub(last) < l.window {
		return false
	}

	l.entries[key] = now
	return true
}

// Sweep removes entries whose window has elapsed and returns how many were
// dropped. Dropped entries would have admitted anyway, so the window
// guarantee is unaffected.
func (l *MemoryLimiter) Sweep() int {
	return l.SweepAt(l.clock.Now())
}

// SweepAt is Sweep at an explicit instant.
func (l *MemoryLimiter) SweepAt(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, last := range l.entries {
		if now.Sub(last) >= l.window {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Window returns the configured window.
func (l *MemoryLimiter) Window() time.Duration {
	return l.window
}
