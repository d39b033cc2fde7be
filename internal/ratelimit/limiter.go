// Package ratelimit enforces per-tenant outbound message budgets with
// token buckets persisted in the store, so every worker sees the same
// bucket. Buckets refill lazily on read; there is no background refill
// loop.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"waflow/internal/constants"
	"waflow/internal/metrics"
	"waflow/internal/models"

	"github.com/sirupsen/logrus"
)

// BucketStore persists token buckets. The sqlite database implements it;
// SwapRateBucket must only apply when the stored bucket still matches the
// snapshot, which is what makes concurrent consumers safe.
type BucketStore interface {
	GetRateBucket(ctx context.Context, tenantID string) (*models.RateBucket, error)
	CreateRateBucket(ctx context.Context, bucket *models.RateBucket) (bool, error)
	SwapRateBucket(ctx context.Context, tenantID string, oldTokens float64, oldRefillMs int64, newTokens float64, newRefillMs int64) (bool, error)
	DeleteIdleRateBuckets(ctx context.Context, cutoff time.Time) (int64, error)
}

// Decision is the outcome of a limit check. RetryAfter is only set on
// denials and is rounded up to whole seconds, matching what a Retry-After
// header would carry.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Config tunes the limiter.
type Config struct {
	DefaultPerMinute int
	BucketTTL        time.Duration
	SweepInterval    time.Duration
}

// Limiter hands out send permits. The limiter fails open: when the store
// misbehaves or the swap race cannot be won within the attempt budget,
// the send proceeds rather than dropping tenant traffic over a limiter
// hiccup.
type Limiter struct {
	store  BucketStore
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewLimiter(store BucketStore, cfg Config, logger *logrus.Logger) *Limiter {
	if cfg.DefaultPerMinute <= 0 {
		cfg.DefaultPerMinute = constants.DefaultRateLimitPerMinute
	}
	if cfg.BucketTTL <= 0 {
		cfg.BucketTTL = constants.DefaultBucketTTLMinutes * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = constants.DefaultBucketSweepMinutes * time.Minute
	}
	return &Limiter{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Allow consumes one token from the tenant's bucket.
func (l *Limiter) Allow(ctx context.Context, tenantID string, perMinute int) Decision {
	return l.AllowN(ctx, tenantID, perMinute, 1)
}

// AllowN consumes n tokens, or denies with the wait until n become
// available. A denial consumes nothing.
func (l *Limiter) AllowN(ctx context.Context, tenantID string, perMinute int, n int) Decision {
	decision := l.allowN(ctx, tenantID, perMinute, n)
	metrics.RecordRateLimitDecision(decision.Allowed)
	return decision
}

func (l *Limiter) allowN(ctx context.Context, tenantID string, perMinute int, n int) Decision {
	if perMinute <= 0 {
		perMinute = l.cfg.DefaultPerMinute
	}
	capacity := float64(perMinute)
	need := float64(n)

	for attempt := 0; attempt < constants.DefaultBucketCASAttempts; attempt++ {
		bucket, err := l.store.GetRateBucket(ctx, tenantID)
		if err != nil {
			return l.failOpen(tenantID, "read", err)
		}

		nowMs := l.now().UnixMilli()

		if bucket == nil {
			created, err := l.store.CreateRateBucket(ctx, &models.RateBucket{
				TenantID:     tenantID,
				Tokens:       capacity - need,
				LastRefillMs: nowMs,
			})
			if err != nil {
				return l.failOpen(tenantID, "create", err)
			}
			if created {
				return Decision{Allowed: true, Remaining: int(capacity - need)}
			}
			// Lost the create race; re-read the winner's bucket.
			continue
		}

		tokens := refill(bucket, capacity, nowMs)

		if tokens < need {
			perSecond := capacity / 60.0
			waitSec := math.Ceil((need - tokens) / perSecond)
			return Decision{
				Allowed:    false,
				Remaining:  int(tokens),
				RetryAfter: time.Duration(waitSec) * time.Second,
			}
		}

		swapped, err := l.store.SwapRateBucket(ctx, tenantID,
			bucket.Tokens, bucket.LastRefillMs, tokens-need, nowMs)
		if err != nil {
			return l.failOpen(tenantID, "swap", err)
		}
		if swapped {
			return Decision{Allowed: true, Remaining: int(tokens - need)}
		}
		// Another consumer moved the bucket between read and swap.
	}

	return l.failOpen(tenantID, "contention", nil)
}

// refill computes the current token count without writing it back. The
// write happens in the swap, so a denied check leaves the bucket alone.
func refill(bucket *models.RateBucket, capacity float64, nowMs int64) float64 {
	elapsedMs := nowMs - bucket.LastRefillMs
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	tokens := bucket.Tokens + float64(elapsedMs)*capacity/60000.0
	if tokens > capacity {
		tokens = capacity
	}
	return tokens
}

func (l *Limiter) failOpen(tenantID, stage string, err error) Decision {
	entry := l.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"stage":     stage,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("Rate limiter failing open")
	return Decision{Allowed: true, Remaining: 0}
}

// Start launches the idle-bucket sweeper. Idle buckets are full by
// definition, so deleting them never costs a tenant tokens.
func (l *Limiter) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				cutoff := l.now().Add(-l.cfg.BucketTTL)
				removed, err := l.store.DeleteIdleRateBuckets(ctx, cutoff)
				if err != nil {
					l.logger.WithError(err).Warn("Rate bucket sweep failed")
					continue
				}
				if removed > 0 {
					l.logger.WithField("removed", removed).Debug("Swept idle rate buckets")
				}
			}
		}
	}()
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}
