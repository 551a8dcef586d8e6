package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/kovra/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestLoginLimiter(burst int, perSecond float64) (*LoginLimiter, *time.Time) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{LoginRate: perSecond, LoginBurst: burst}}
	l := NewLoginLimiter(cfg, nil, zap.NewNop())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLoginLimiterLocalBurstThenThrottle(t *testing.T) {
	l, now := newTestLoginLimiter(3, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := l.Allow(ctx, "10.0.0.1"); !d.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}

	d := l.Allow(ctx, "10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	// other clients are independent
	assert.True(t, l.Allow(ctx, "10.0.0.2").Allowed)

	*now = now.Add(time.Second)
	assert.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
}

func TestLoginLimiterEvictsIdleClients(t *testing.T) {
	l, now := newTestLoginLimiter(1, 0.01)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "a").Allowed)
	assert.False(t, l.Allow(ctx, "a").Allowed)

	*now = now.Add(11 * time.Minute)
	l.Allow(ctx, "b")
	_, tracked := l.local["a"]
	assert.False(t, tracked)
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(true, 0, 1))
	assert.Equal(t, 500*time.Millisecond, retryAfter(false, 0.5, 1))
	assert.Equal(t, 2*time.Second, retryAfter(false, 0, 0.5))
}

func TestLockerNilIsNotConfigured(t *testing.T) {
	var l *Locker
	_, _, err := l.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}
