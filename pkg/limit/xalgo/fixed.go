package xalgo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// =============================================================================
// 固定窗口
// =============================================================================

// fixedWindow 基于 Store 的固定窗口计数算法。
// 计数器按窗口序号分 key（key:floor(now/window)），在窗口边界精确
// 归零。状态 O(1)，代价是边界跨越处最多放行 2 倍限额。
type fixedWindow struct {
	store xstore.Store
	opts  *options
}

// NewFixedWindow 创建固定窗口算法。
func NewFixedWindow(store xstore.Store, opts ...Option) (Algorithm, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &fixedWindow{store: store, opts: newOptions(opts)}, nil
}

func (a *fixedWindow) Name() string { return NameFixedWindow }

func (a *fixedWindow) Check(ctx context.Context, key string, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, 0, window, opts, true); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()
	windowKey, resetAt := a.windowKey(key, window, now)

	var current int64
	val, err := a.store.Get(ctx, windowKey)
	switch {
	case err == nil:
		n, parseErr := strconv.ParseInt(val, 10, 64)
		if parseErr != nil {
			return Result{}, xstore.ErrWrongKind
		}
		current = n
	case errors.Is(err, xstore.ErrKeyNotFound):
		// 本窗口还没有请求
	default:
		return Result{}, err
	}

	eff := effectiveLimit(limit, opts)
	return Result{
		Allowed:   current < eff,
		Remaining: clampRemaining(eff - current),
		ResetAt:   resetAt,
		Current:   current,
		Limit:     eff,
	}, nil
}

func (a *fixedWindow) Consume(ctx context.Context, key string, cost, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, cost, window, opts, false); err != nil {
		return Result{}, err
	}

	now := a.opts.clock()
	windowKey, resetAt := a.windowKey(key, window, now)

	// 拒绝也计数，语义与滑动窗口一致
	current, err := a.store.Increment(ctx, windowKey, cost, window+time.Second)
	if err != nil {
		return Result{}, err
	}

	eff := effectiveLimit(limit, opts)
	return Result{
		Allowed:   current <= eff,
		Remaining: clampRemaining(eff - current),
		ResetAt:   resetAt,
		Current:   current,
		Limit:     eff,
	}, nil
}

// windowKey 返回当前窗口的计数器 key 与窗口结束时间。
func (a *fixedWindow) windowKey(key string, window time.Duration, now time.Time) (string, time.Time) {
	windowMS := window.Milliseconds()
	idx := now.UnixMilli() / windowMS
	return key + ":" + strconv.FormatInt(idx, 10), time.UnixMilli((idx + 1) * windowMS)
}

var _ Algorithm = (*fixedWindow)(nil)
