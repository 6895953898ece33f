package denylist

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/l0p7/gatewarden/internal/metrics"
)

// Gate serialises upstream lookups: at most one runs at a time and waiters
// are admitted in arrival order. An optional minimum interval spaces the
// start of consecutive lookups.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewGate builds a gate. A non-positive minInterval disables spacing.
func NewGate(minInterval time.Duration, recorder *metrics.Recorder) *Gate {
	g := &Gate{
		sem:     semaphore.NewWeighted(1),
		metrics: recorder,
		now:     time.Now,
	}
	if minInterval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return g
}

// Run waits for exclusive admission and executes fn while holding it. The
// gate is released when fn returns, whether it succeeded or not. Run returns
// the context error if the caller gave up before admission.
func (g *Gate) Run(ctx context.Context, fn func(context.Context)) error {
	started := g.now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	g.metrics.ObserveGateWait(g.now().Sub(started))

	fn(ctx)
	return nil
}
