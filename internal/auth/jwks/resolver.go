// Package jwks resolves signing keys of the external identity provider.
package jwks

import (
	"context"
	"crypto"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/clock"
	"go.uber.org/zap"
)

// FetchObserver is notified after each fetch attempt. outcome is one of
// "ok", "stale" or "error".
type FetchObserver func(ctx context.Context, outcome string)

type Options struct {
	TTL       time.Duration
	Fetcher   Fetcher
	Clock     clock.Clock
	StaticKey crypto.PublicKey
	Logger    *zap.Logger
	Observer  FetchObserver
}

// Resolver caches the provider key set. A stale set is kept across failed
// refreshes and is used until a fetch succeeds.
type Resolver struct {
	ttl       time.Duration
	fetcher   Fetcher
	clock     clock.Clock
	staticKey crypto.PublicKey
	log       *zap.Logger
	observe   FetchObserver

	mu        sync.RWMutex
	keys      *KeySet
	expiresAt time.Time
}

func NewResolver(opts Options) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		ttl:       opts.TTL,
		fetcher:   opts.Fetcher,
		clock:     opts.Clock,
		staticKey: opts.StaticKey,
		log:       opts.Logger.Named("auth.jwks"),
		observe:   opts.Observer,
	}
}

// ResolveSigningKey returns the verification key for kid.
func (r *Resolver) ResolveSigningKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if r.staticKey != nil {
		return r.staticKey, nil
	}

	set, fresh := r.cached()
	if !fresh {
		fetched, err := r.refresh(ctx)
		switch {
		case err == nil:
			set = fetched
		case set != nil:
			r.log.Warn("jwks refresh failed, serving stale keys",
				zap.Error(err),
				zap.String("kid", kid),
			)
			r.notify(ctx, "stale")
		default:
			return nil, fmt.Errorf("%w: %v", autherr.ErrJWKSFetchFailed, err)
		}
	}

	return set.lookup(kid)
}

// cached returns the current key set and whether it is still within its TTL.
func (r *Resolver) cached() (*KeySet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.keys == nil {
		return nil, false
	}
	return r.keys, r.clock.Now().Before(r.expiresAt)
}

func (r *Resolver) refresh(ctx context.Context) (*KeySet, error) {
	if r.fetcher == nil {
		r.notify(ctx, "error")
		return nil, fmt.Errorf("jwks fetcher is not configured")
	}
	set, err := r.fetcher.Fetch(ctx)
	if err != nil {
		r.notify(ctx, "error")
		return nil, err
	}
	if set == nil {
		set = &KeySet{}
	}

	r.mu.Lock()
	r.keys = set
	r.expiresAt = r.clock.Now().Add(r.ttl)
	r.mu.Unlock()

	r.notify(ctx, "ok")
	r.log.Debug("jwks refreshed", zap.Int("keys", len(set.Keys)))
	return set, nil
}

func (r *Resolver) notify(ctx context.Context, outcome string) {
	if r.observe != nil {
		r.observe(ctx, outcome)
	}
}

// Invalidate expires the cached set so the next lookup fetches, while keeping
// it available as a stale fallback.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.expiresAt = time.Time{}
	r.mu.Unlock()
}

// Keys returns the kids currently cached.
func (r *Resolver) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keys.kids()
}
