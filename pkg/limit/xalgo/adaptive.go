package xalgo

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// =============================================================================
// 自适应限流
// =============================================================================

// adaptive 在滑动窗口之上叠加负载自适应的限额倍率。
//
// 有效限额 = baseLimit × multiplier。倍率随调用方上报的负载信号
// 调整：过载（ServerLoad > 0.8 或 ErrorRate > 0.1）时下调两步，
// 轻载（AvgResponseTime 低于快速阈值）时上调一步，并裁剪到
// [MinMultiplier, MaxMultiplier]。
//
// 倍率按 key 存放在 Store 中（key:mult），多副本共享同一份视图。
// 并发调整时最后写入者胜出——倍率是咨询性状态，不要求严格一致。
type adaptive struct {
	store xstore.Store
	opts  *options
	inner Algorithm
}

// NewAdaptive 创建自适应限流算法。
func NewAdaptive(store xstore.Store, opts ...Option) (Algorithm, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	cfg := newOptions(opts)
	return &adaptive{
		store: store,
		opts:  cfg,
		inner: &slidingWindow{store: store, opts: cfg},
	}, nil
}

func (a *adaptive) Name() string { return NameAdaptive }

func (a *adaptive) Check(ctx context.Context, key string, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, 0, window, opts, true); err != nil {
		return Result{}, err
	}

	// Check 只读，不调整倍率
	m, err := a.loadMultiplier(ctx, key)
	if err != nil {
		return Result{}, err
	}

	res, err := a.inner.Check(ctx, key, a.scale(effectiveLimit(limit, opts), m), window, Options{})
	if err != nil {
		return Result{}, err
	}
	res.Multiplier = m
	return res, nil
}

func (a *adaptive) Consume(ctx context.Context, key string, cost, limit int64, window time.Duration, opts Options) (Result, error) {
	if err := validateArgs(limit, cost, window, opts, false); err != nil {
		return Result{}, err
	}

	m, err := a.loadMultiplier(ctx, key)
	if err != nil {
		return Result{}, err
	}

	if adjusted := a.adjust(m, opts.Load); adjusted != m {
		m = adjusted
		if err := a.storeMultiplier(ctx, key, m); err != nil {
			return Result{}, err
		}
	}

	res, err := a.inner.Consume(ctx, key, cost, a.scale(effectiveLimit(limit, opts), m), window, Options{})
	if err != nil {
		return Result{}, err
	}
	res.Multiplier = m
	return res, nil
}

// =============================================================================
// 倍率管理
// =============================================================================

const multiplierSuffix = ":mult"

func (a *adaptive) loadMultiplier(ctx context.Context, key string) (float64, error) {
	val, err := a.store.Get(ctx, key+multiplierSuffix)
	if err != nil {
		if errors.Is(err, xstore.ErrKeyNotFound) {
			return 1.0, nil
		}
		return 0, err
	}

	m, parseErr := strconv.ParseFloat(val, 64)
	if parseErr != nil || math.IsNaN(m) || m <= 0 {
		// 损坏的倍率回到中性值
		return 1.0, nil
	}
	return a.clamp(m), nil
}

func (a *adaptive) storeMultiplier(ctx context.Context, key string, m float64) error {
	return a.store.Set(ctx, key+multiplierSuffix,
		strconv.FormatFloat(m, 'f', -1, 64), a.opts.multiplierTTL)
}

// adjust 按负载信号调整倍率。零值信号不调整。
// 过载优先于轻载：同时满足时只下调。
func (a *adaptive) adjust(m float64, load LoadSignal) float64 {
	switch {
	case load == (LoadSignal{}):
		return m
	case load.ServerLoad > 0.8 || load.ErrorRate > 0.1:
		m -= 2 * a.opts.stepSize
	case load.AvgResponseTime > 0 && load.AvgResponseTime < a.opts.fastResponse:
		m += a.opts.stepSize
	default:
		return m
	}

	// 对齐到步长网格，消除浮点累积误差
	m = math.Round(m/a.opts.stepSize) * a.opts.stepSize
	return a.clamp(m)
}

func (a *adaptive) clamp(m float64) float64 {
	return math.Min(a.opts.maxMultiplier, math.Max(a.opts.minMultiplier, m))
}

// scale 返回缩放后的有效限额，下限 1——倍率再低也不应把限额
// 压成 0 导致全量拒绝。
func (a *adaptive) scale(limit int64, m float64) int64 {
	scaled := int64(math.Floor(float64(limit) * m))
	if scaled < 1 {
		return 1
	}
	return scaled
}

var _ Algorithm = (*adaptive)(nil)
