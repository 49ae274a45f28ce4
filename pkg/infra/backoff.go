package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff yields exponentially growing delays with ±20% jitter, capped at max
type Backoff struct {
	mu         sync.Mutex
	base       time.Duration
	limit      time.Duration
	multiplier float64
	current    time.Duration
	attempts   int
}

func NewBackoff(base, limit time.Duration, multiplier float64) *Backoff {
	return &Backoff{
		base:       base,
		limit:      limit,
		multiplier: multiplier,
		current:    base,
	}
}

func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(b.current))
	wait := max(b.current+jitter, b.base)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.limit)
	return wait
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.base
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Sleep pauses for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
