package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/kovra/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyLoginAttempt = "auth:login:"

// LoginLimiter throttles login attempts per client key. It uses the redis
// token bucket when available and an in-process limiter otherwise, or when
// redis fails.
type LoginLimiter struct {
	log    *zap.Logger
	bucket *TokenBucket
	rate   float64
	burst  int

	mu      sync.Mutex
	local   map[string]*localEntry
	now     func() time.Time
	idleTTL time.Duration
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Decision is the outcome of one login attempt check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

func NewLoginLimiter(cfg config.Config, bucket *TokenBucket, log *zap.Logger) *LoginLimiter {
	r := cfg.RateLimit.LoginRate
	if r <= 0 {
		r = 0.2
	}
	burst := cfg.RateLimit.LoginBurst
	if burst <= 0 {
		burst = 10
	}
	return &LoginLimiter{
		log:     log.Named("ratelimit.login"),
		bucket:  bucket,
		rate:    r,
		burst:   burst,
		local:   make(map[string]*localEntry),
		now:     time.Now,
		idleTTL: 10 * time.Minute,
	}
}

func (l *LoginLimiter) Allow(ctx context.Context, key string) Decision {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}

	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, keyLoginAttempt+key, l.rate, l.burst)
		if err == nil {
			return Decision{Allowed: res.Allowed, RetryAfter: res.RetryAfter}
		}
		l.log.Warn("redis login limiter failed, using local limiter", zap.Error(err))
	}
	return l.allowLocal(key)
}

func (l *LoginLimiter) allowLocal(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	entry, ok := l.local[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(rate.Limit(l.rate), l.burst)}
		l.local[key] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

func (l *LoginLimiter) evict(now time.Time) {
	for key, entry := range l.local {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.local, key)
		}
	}
}
