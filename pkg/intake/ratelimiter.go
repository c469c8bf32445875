package intake

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

const (
	rateWindow          = time.Minute
	rateCleanupInterval = 5 * time.Minute
	rateCleanupTag      = "rateCleanup"
)

// RateLimiter enforces a per-client sliding window of requests per minute.
type RateLimiter struct {
	clock  quartz.Clock
	max    int
	mu     sync.Mutex
	hits   map[string][]time.Time
	cancel context.CancelFunc
	waiter quartz.Waiter
}

// NewRateLimiter creates a limiter allowing maxPerMinute requests per client.
// A background sweep drops idle clients until Stop is called.
func NewRateLimiter(clock quartz.Clock, maxPerMinute int) *RateLimiter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		clock:  clock,
		max:    maxPerMinute,
		hits:   make(map[string][]time.Time),
		cancel: cancel,
	}
	rl.waiter = clock.TickerFunc(ctx, rateCleanupInterval, func() error {
		rl.cleanup()
		return nil
	}, rateCleanupTag)
	return rl
}

// Allow records a request from client and reports whether it is within the
// limit. Denied requests are not recorded.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	recent := prune(rl.hits[client], now)
	if len(recent) >= rl.max {
		rl.hits[client] = recent
		return false
	}
	rl.hits[client] = append(recent, now)
	return true
}

// RetryAfter returns how long client must wait before its oldest request
// leaves the window, rounded up to whole seconds.
func (rl *RateLimiter) RetryAfter(client string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := prune(rl.hits[client], rl.clock.Now())
	if len(recent) < rl.max || len(recent) == 0 {
		return 0
	}
	wait := rateWindow - rl.clock.Since(recent[0])
	if wait <= 0 {
		return 0
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for client, times := range rl.hits {
		recent := prune(times, now)
		if len(recent) == 0 {
			delete(rl.hits, client)
			continue
		}
		rl.hits[client] = recent
	}
}

// clients returns the number of clients currently tracked.
func (rl *RateLimiter) clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.hits)
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.cancel()
	_ = rl.waiter.Wait()
}

// prune drops timestamps that fell out of the window. times is ordered.
func prune(times []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) >= rateWindow {
		i++
	}
	return times[i:]
}
