package gateway

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces the upstream's per-minute and per-hour call quotas with a
// sliding window. It is the one piece of shared mutable state in the core:
// admission decisions are serialized under the mutex so concurrent requests
// cannot overrun a global quota together.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	maxWait   time.Duration
	stamps    []time.Time
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

// NewLimiter creates a limiter. Zero limits disable the corresponding window.
func NewLimiter(perMinute, perHour int, maxWait time.Duration) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		maxWait:   maxWait,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Wait blocks until a call slot is free, up to maxWait or context
// cancellation. A successful return records the call in the window.
func (l *Limiter) Wait(ctx context.Context) error {
	deadline := l.now().Add(l.maxWait)

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		wait := l.nextFree(now)
		if wait <= 0 {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}
		if wait <= 0 {
			return context.DeadlineExceeded
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// nextFree returns how long until a slot opens, or zero if one is open now.
// Callers hold the mutex.
func (l *Limiter) nextFree(now time.Time) time.Duration {
	if l.perHour > 0 && len(l.stamps) >= l.perHour {
		return l.stamps[len(l.stamps)-l.perHour].Add(time.Hour).Sub(now)
	}
	if l.perMinute > 0 {
		recent := 0
		cutoff := now.Add(-time.Minute)
		for i := len(l.stamps) - 1; i >= 0; i-- {
			if l.stamps[i].After(cutoff) {
				recent++
			} else {
				break
			}
		}
		if recent >= l.perMinute {
			return l.stamps[len(l.stamps)-l.perMinute].Add(time.Minute).Sub(now)
		}
	}
	return 0
}

// prune drops stamps older than the hour window. Callers hold the mutex.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Pending returns the number of calls currently inside the hour window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
