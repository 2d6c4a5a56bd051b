package xalgo

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// =============================================================================
// 接口定义
// =============================================================================

// 已注册的算法名称。
const (
	NameSlidingWindow = "sliding_window"
	NameTokenBucket   = "token_bucket"
	NameFixedWindow   = "fixed_window"
	NameLeakyBucket   = "leaky_bucket"
	NameAdaptive      = "adaptive"
)

// Algorithm 是单个限流算法对单个 key 的决策接口。
// 实现全部无状态且并发安全，key 的计数状态存放在构造时注入的 Store 中。
type Algorithm interface {
	// Name 返回算法的注册名称。
	Name() string

	// Check 只读预览：当前状态下一个 cost=1 的请求能否通过。
	// 不改变任何状态。
	Check(ctx context.Context, key string, limit int64, window time.Duration, opts Options) (Result, error)

	// Consume 消费 cost 个配额并返回决策。
	// cost 必须 >= 1。
	Consume(ctx context.Context, key string, cost, limit int64, window time.Duration, opts Options) (Result, error)
}

// Options 是单次调用的可选参数。
type Options struct {
	// Burst > 0 时覆盖本次调用的有效限额。
	Burst int64

	// Load 是调用方上报的负载信号，仅 adaptive 算法使用。
	// 零值表示本次调用不携带信号（不调整倍率）。
	Load LoadSignal
}

// LoadSignal 描述服务当前的负载状况，由调用方采集上报。
type LoadSignal struct {
	// ServerLoad 归一化负载，0~1。> 0.8 视为过载。
	ServerLoad float64

	// ErrorRate 错误率，0~1。> 0.1 视为异常。
	ErrorRate float64

	// AvgResponseTime 平均响应时间。低于快速阈值时视为轻载。
	AvgResponseTime time.Duration
}

// Result 是一次限流决策的结果。
type Result struct {
	// Allowed 是否放行。
	Allowed bool

	// Remaining 剩余配额，始终 >= 0。
	Remaining int64

	// ResetAt 配额恢复时间。拒绝时为建议的最早重试时间，
	// 放行时为当前用量完全释放的时间。
	ResetAt time.Time

	// Current 当前用量。滑动/固定窗口族在拒绝后仍然计数，
	// 因此可能超过 Limit（反映真实请求压力）。
	Current int64

	// Limit 本次决策采用的有效限额。
	Limit int64

	// Multiplier 当前限额倍率，仅 adaptive 算法填写，其余为 0。
	Multiplier float64
}

// =============================================================================
// 注册表
// =============================================================================

// New 按名称创建算法实例。
// 未注册的名称返回 ErrUnknownAlgorithm——算法名来自配置，
// 写错应当在启动时暴露而不是运行时静默放行。
func New(name string, store xstore.Store, opts ...Option) (Algorithm, error) {
	switch name {
	case NameSlidingWindow:
		return NewSlidingWindow(store, opts...)
	case NameTokenBucket:
		return NewTokenBucket(store, opts...)
	case NameFixedWindow:
		return NewFixedWindow(store, opts...)
	case NameLeakyBucket:
		return NewLeakyBucket(store, opts...)
	case NameAdaptive:
		return NewAdaptive(store, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// =============================================================================
// 配置选项
// =============================================================================

type options struct {
	clock         func() time.Time
	minMultiplier float64
	maxMultiplier float64
	stepSize      float64
	fastResponse  time.Duration
	multiplierTTL time.Duration
}

// Option 配置算法实例。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		clock:         time.Now,
		minMultiplier: 0.1,
		maxMultiplier: 3.0,
		stepSize:      0.1,
		fastResponse:  100 * time.Millisecond,
		multiplierTTL: time.Hour,
	}
}

// WithClock 注入时钟，用于测试。
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMultiplierRange 设置 adaptive 倍率的上下限。
// 仅当 0 < min <= max 时生效。
func WithMultiplierRange(min, max float64) Option {
	return func(o *options) {
		if min > 0 && min <= max {
			o.minMultiplier = min
			o.maxMultiplier = max
		}
	}
}

// WithMultiplierStep 设置 adaptive 倍率的单步调整量。
func WithMultiplierStep(step float64) Option {
	return func(o *options) {
		if step > 0 {
			o.stepSize = step
		}
	}
}

// WithFastResponse 设置 adaptive 判定轻载的响应时间阈值。
func WithFastResponse(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fastResponse = d
		}
	}
}

func newOptions(opts []Option) *options {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// =============================================================================
// 公共辅助
// =============================================================================

// effectiveLimit 返回本次调用的有效限额：Burst > 0 时覆盖 limit。
func effectiveLimit(limit int64, opts Options) int64 {
	if opts.Burst > 0 {
		return opts.Burst
	}
	return limit
}

// validateArgs 校验公共参数。checkOnly 时不校验 cost。
func validateArgs(limit, cost int64, window time.Duration, opts Options, checkOnly bool) error {
	if limit <= 0 || window <= 0 || opts.Burst < 0 {
		return ErrInvalidArgument
	}
	if !checkOnly && cost < 1 {
		return ErrInvalidArgument
	}
	return nil
}

// ratePerSec 返回 limit 个/窗口对应的每秒速率。
func ratePerSec(limit int64, window time.Duration) float64 {
	return float64(limit) / window.Seconds()
}

// clampRemaining 裁剪剩余额度到 [0, ∞)。
func clampRemaining(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
