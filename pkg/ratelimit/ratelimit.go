// Package ratelimit provides per-key token-bucket admission control, used for
// inbound API callers (keyed by IP) and outbound enrichment providers (keyed
// by provider name).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
)

// Keyed maintains one token bucket per key, created lazily. All buckets share
// the same refill rate and capacity.
type Keyed struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewKeyed builds a limiter allowing `points` consumptions per `window` from
// each key, with bursts up to the full window budget.
func NewKeyed(points int, window time.Duration) *Keyed {
	if points < 1 {
		points = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Keyed{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(points) / window.Seconds()),
		burst:   points,
	}
}

// NewPerSecond builds a limiter with a small per-second cap, used for
// third-party provider quotas.
func NewPerSecond(cap int) *Keyed {
	return NewKeyed(cap, time.Second)
}

// Allow consumes one token for key, returning a RateLimited error when the
// bucket is empty. Rejections are always surfaced, never silently dropped.
func (k *Keyed) Allow(key string) error {
	return k.AllowN(key, 1)
}

// AllowN consumes n tokens for key.
func (k *Keyed) AllowN(key string, n int) error {
	if k.bucket(key).AllowN(time.Now(), n) {
		return nil
	}
	return apperr.Newf(apperr.KindRateLimited, "rate limit exceeded for %s", key)
}

// Wait blocks until a token is available for key or ctx is done. Used for
// outbound provider calls, where waiting out the quota beats failing the job.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	if err := k.bucket(key).Wait(ctx); err != nil {
		return apperr.Wrap(apperr.KindRateLimited, "rate limit wait aborted", err)
	}
	return nil
}

func (k *Keyed) bucket(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.buckets[key]
	if !ok {
		b = rate.NewLimiter(k.limit, k.burst)
		k.buckets[key] = b
	}
	return b
}
