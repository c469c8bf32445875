package intake

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(quartz.NewMock(t), 5)
	defer rl.Stop()

	ip := "192.168.1.1"

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip), "Request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow(ip), "6th request should be denied")
}

func TestRateLimiterMultipleClients(t *testing.T) {
	rl := NewRateLimiter(quartz.NewMock(t), 3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.2"))
	}

	assert.False(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	mClock := quartz.NewMock(t)
	rl := NewRateLimiter(mClock, 2)
	defer rl.Stop()

	ip := "192.168.1.1"

	assert.True(t, rl.Allow(ip))
	mClock.Advance(10 * time.Second)
	assert.True(t, rl.Allow(ip))
	assert.False(t, rl.Allow(ip))

	assert.Equal(t, 50*time.Second, rl.RetryAfter(ip))

	// first request leaves the window
	mClock.Advance(50 * time.Second)
	assert.Zero(t, rl.RetryAfter(ip))
	assert.True(t, rl.Allow(ip))
	assert.False(t, rl.Allow(ip))
}

func TestRateLimiterRetryAfterRoundsUp(t *testing.T) {
	mClock := quartz.NewMock(t)
	rl := NewRateLimiter(mClock, 1)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	mClock.Advance(1500 * time.Millisecond)
	assert.False(t, rl.Allow("a"))

	assert.Equal(t, 59*time.Second, rl.RetryAfter("a"))
	assert.Zero(t, rl.RetryAfter("unknown"))
}

func TestRateLimiterCleanup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	rl := NewRateLimiter(mClock, 10)
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	assert.Equal(t, 2, rl.clients())

	mClock.Advance(rateCleanupInterval).MustWait(ctx)

	assert.Zero(t, rl.clients())
}
