package xalgo

import (
	"context"
	"time"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// =============================================================================
// 漏桶
// =============================================================================

// leakyBucket 基于 Store 的漏桶算法。
// 容量 = 有效限额，渗漏速率 = limit/window 个每秒。请求注水，
// 漏桶以恒定速率出流，注水会溢出时拒绝。与令牌桶的区别：
// 不允许突发，出流速率被强制平滑。
type leakyBucket struct {
	store xstore.Store
	opts  *options
}

// NewLeakyBucket 创建漏桶算法。
func NewLeakyBucket(store xstore.Store, opts ...Option) (Algorithm, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &leakyBucket{store: store, opts: newOptions(opts)}, nil
}

func (a *leakyBucket) Name() string { return NameLeakyBucket }

func (a *leakyBucket) Check(ctx context.Context, key string, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, 0, window, opts, true); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()
	eff := effectiveLimit(limit, opts)
	rate := ratePerSec(eff, window)

	res, err := a.store.LeakyBucketConsume(ctx, key, eff, rate, 0, now)
	if err != nil {
		return Result{}, err
	}
	return a.result(res, eff, rate, now, res.Remaining >= 1), nil
}

func (a *leakyBucket) Consume(ctx context.Context, key string, cost, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, cost, window, opts, false); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()
	eff := effectiveLimit(limit, opts)
	rate := ratePerSec(eff, window)

	res, err := a.store.LeakyBucketConsume(ctx, key, eff, rate, cost, now)
	if err != nil {
		return Result{}, err
	}
	return a.result(res, eff, rate, now, res.Allowed), nil
}

func (a *leakyBucket) result(res xstore.ConsumeResult, eff int64, rate float64, now time.Time, allowed bool) Result {
	// Remaining 是剩余空间，水位 = 容量 - 剩余空间
	level := clampRemaining(eff - res.Remaining)

	resetAt := now
	switch {
	case !allowed && res.RetryAfter > 0:
		resetAt = now.Add(res.RetryAfter)
	case level > 0:
		// 桶完全排空所需时间
		resetAt = now.Add(time.Duration(float64(level) / rate * float64(time.Second)))
	}

	return Result{
		Allowed:   allowed,
		Remaining: clampRemaining(res.Remaining),
		ResetAt:   resetAt,
		Current:   level,
		Limit:     eff,
	}
}

var _ Algorithm = (*leakyBucket)(nil)
