package xalgo

import (
	"context"
	"time"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// =============================================================================
// 滑动窗口
// =============================================================================

// slidingWindow 基于 Store 的滑动窗口算法。
// 每个请求在窗口中记录一个时间戳条目，计数为 [now-window, now]
// 闭区间内的条目数。没有固定窗口的边界突刺问题。
type slidingWindow struct {
	store xstore.Store
	opts  *options
}

// NewSlidingWindow 创建滑动窗口算法。
func NewSlidingWindow(store xstore.Store, opts ...Option) (Algorithm, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &slidingWindow{store: store, opts: newOptions(opts)}, nil
}

func (a *slidingWindow) Name() string { return NameSlidingWindow }

func (a *slidingWindow) Check(ctx context.Context, key string, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, 0, window, opts, true); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()
	count, err := a.store.SlidingWindowCount(ctx, key, now.Add(-window), now)
	if err != nil {
		return Result{}, err
	}

	eff := effectiveLimit(limit, opts)
	return Result{
		Allowed:   count < eff,
		Remaining: clampRemaining(eff - count),
		ResetAt:   now.Add(window),
		Current:   count,
		Limit:     eff,
	}, nil
}

func (a *slidingWindow) Consume(ctx context.Context, key string, cost, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, cost, window, opts, false); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()

	// 拒绝的请求也计入窗口：计数反映真实请求压力，
	// 持续超载的调用方不会因为被拒而显得"清白"
	count, err := a.store.SlidingWindowAdd(ctx, key, now, window, cost)
	if err != nil {
		return Result{}, err
	}

	eff := effectiveLimit(limit, opts)
	return Result{
		Allowed:   count <= eff,
		Remaining: clampRemaining(eff - count),
		ResetAt:   now.Add(window),
		Current:   count,
		Limit:     eff,
	}, nil
}

var _ Algorithm = (*slidingWindow)(nil)
