// Package usage records API key usage off the request path.
package usage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kovra/internal/apikey/domain"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	DB        *gorm.DB
	Repo      domain.Repository
	Clock     clock.Clock
	Config    config.Config
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

// Recorder bumps usage counters. RecordAsync failures are logged and never
// reach the caller.
type Recorder struct {
	db      *gorm.DB
	repo    domain.Repository
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	// countWindow is false in strict mode, where validation already took
	// the window unit.
	countWindow bool

	wg sync.WaitGroup
}

func New(p Params) *Recorder {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	timeout := p.Config.APIKey.UsageTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Recorder{
		db:          p.DB,
		repo:        p.Repo,
		clock:       clk,
		log:         p.Log.Named("apikey.usage"),
		metrics:     p.Metrics,
		timeout:     timeout,
		countWindow: !p.Config.APIKey.StrictRateLimit,
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.Close(ctx)
			},
		})
	}
	return r
}

// Record applies one usage in a single UPDATE.
func (r *Recorder) Record(ctx context.Context, keyID snowflake.ID, ip string) error {
	return r.repo.RecordUsage(ctx, r.db, keyID, strings.TrimSpace(ip), r.clock.Now(), r.countWindow)
}

// RecordAsync records usage on a detached goroutine with its own timeout.
func (r *Recorder) RecordAsync(keyID snowflake.ID, ip string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.Record(ctx, keyID, ip); err != nil {
			r.metrics.RecordUsageFailure(ctx)
			r.log.Warn("failed to record api key usage",
				zap.String("key_id", keyID.String()),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every pending RecordAsync has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Close waits for pending updates or until ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
