package xalgo

import (
	"context"
	"time"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// =============================================================================
// 令牌桶
// =============================================================================

// tokenBucket 基于 Store 的令牌桶算法。
// 容量 = 有效限额，补充速率 = limit/window 个每秒，由 Store
// 在消费时按流逝时间惰性补充，没有后台定时器。
// 允许容量以内的突发。
type tokenBucket struct {
	store xstore.Store
	opts  *options
}

// NewTokenBucket 创建令牌桶算法。
func NewTokenBucket(store xstore.Store, opts ...Option) (Algorithm, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &tokenBucket{store: store, opts: newOptions(opts)}, nil
}

func (a *tokenBucket) Name() string { return NameTokenBucket }

func (a *tokenBucket) Check(ctx context.Context, key string, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, 0, window, opts, true); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()
	eff := effectiveLimit(limit, opts)
	rate := ratePerSec(eff, window)

	// cost=0 是只读探测
	res, err := a.store.TokenBucketConsume(ctx, key, eff, rate, 0, now)
	if err != nil {
		return Result{}, err
	}
	return a.result(res, eff, rate, now, res.Remaining >= 1), nil
}

func (a *tokenBucket) Consume(ctx context.Context, key string, cost, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, cost, window, opts, false); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()
	eff := effectiveLimit(limit, opts)
	rate := ratePerSec(eff, window)

	res, err := a.store.TokenBucketConsume(ctx, key, eff, rate, cost, now)
	if err != nil {
		return Result{}, err
	}
	return a.result(res, eff, rate, now, res.Allowed), nil
}

func (a *tokenBucket) result(res xstore.ConsumeResult, eff int64, rate float64, now time.Time, allowed bool) Result {
	resetAt := now
	switch {
	case !allowed && res.RetryAfter > 0:
		resetAt = now.Add(res.RetryAfter)
	case res.Remaining < eff:
		// 桶补满所需时间
		resetAt = now.Add(time.Duration(float64(eff-res.Remaining) / rate * float64(time.Second)))
	}

	return Result{
		Allowed:   allowed,
		Remaining: clampRemaining(res.Remaining),
		ResetAt:   resetAt,
		Current:   clampRemaining(eff - res.Remaining),
		Limit:     eff,
	}
}

var _ Algorithm = (*tokenBucket)(nil)
