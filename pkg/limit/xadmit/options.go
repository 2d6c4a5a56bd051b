package xadmit

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ============================================================================
// 配置选项
// ============================================================================

// FailurePolicy 存储故障时的决策策略
type FailurePolicy int

const (
	// FailOpen 放行并在决策上置 Degraded 标记（默认）。
	// 限流是保护手段，存储故障时拒绝全部流量等于自造事故。
	FailOpen FailurePolicy = iota

	// FailClosed 拒绝：返回包装了 xstore.ErrUnavailable 的错误，
	// 适用于宁可拒绝也不能超卖的场景（计费、风控）。
	FailClosed
)

// String 返回策略名称
func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailClosed:
		return "fail_closed"
	default:
		return "unknown"
	}
}

// CallbackFunc 决策回调。
// 在判定完成后同步调用，耗时操作应自行异步化。
type CallbackFunc func(rc RequestContext, d *Decision)

const (
	defaultKeyPrefix = "xadmit:"
	defaultCacheSize = 4096
	defaultCacheTTL  = 30 * time.Second
)

// options 内部配置
type options struct {
	keyPrefix     string
	defaultLimits RuleLimits
	policy        FailurePolicy
	bypassIPs     []string
	bypassKeys    []string
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	onAllow       CallbackFunc
	onDeny        CallbackFunc
	clock         func() time.Time
	cacheSize     int
	cacheTTL      time.Duration
}

// defaultOptions 返回默认配置
func defaultOptions() *options {
	return &options{
		keyPrefix:     defaultKeyPrefix,
		defaultLimits: RuleLimits{Limit: 100, Window: time.Minute},
		policy:        FailOpen,
		logger:        slog.Default(),
		clock:         time.Now,
		cacheSize:     defaultCacheSize,
		cacheTTL:      defaultCacheTTL,
	}
}

// newOptions 构造配置并应用所有选项
func newOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Option 配置选项函数
type Option func(*options)

// WithKeyPrefix 设置计数键前缀，默认 "xadmit:"。
// 多套编排器共享同一存储时用前缀隔离。
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithDefaultLimits 设置无规则命中时的默认限额，
// 默认 100 次/分钟。Limit 与 Window 必须同时为正才生效。
func WithDefaultLimits(limits RuleLimits) Option {
	return func(o *options) {
		if limits.Limit > 0 && limits.Window > 0 && limits.Burst >= 0 {
			o.defaultLimits = limits
		}
	}
}

// WithFailurePolicy 设置存储故障时的决策策略，默认 FailOpen
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(o *options) {
		if policy == FailOpen || policy == FailClosed {
			o.policy = policy
		}
	}
}

// WithBypassIPs 追加旁路地址，接受裸 IP 与 CIDR（如 "10.0.0.1"、"192.168.0.0/16"）。
// 非法条目在 New 时报 ErrInvalidBypassIP。
func WithBypassIPs(ips ...string) Option {
	return func(o *options) {
		o.bypassIPs = append(o.bypassIPs, ips...)
	}
}

// WithBypassAPIKeys 追加旁路 API key
func WithBypassAPIKeys(keys ...string) Option {
	return func(o *options) {
		o.bypassKeys = append(o.bypassKeys, keys...)
	}
}

// WithLogger 设置日志器，默认 slog.Default()。
// 放行记 Debug，拒绝与降级记 Warn。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider。
// 未设置时不收集指标。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithOnAllow 设置放行回调（含旁路与降级放行）
func WithOnAllow(fn CallbackFunc) Option {
	return func(o *options) {
		o.onAllow = fn
	}
}

// WithOnDeny 设置拒绝回调
func WithOnDeny(fn CallbackFunc) Option {
	return func(o *options) {
		o.onDeny = fn
	}
}

// WithClock 注入时钟，测试用
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMatchCacheSize 设置匹配缓存容量，默认 4096
func WithMatchCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithMatchCacheTTL 设置匹配缓存条目过期时间，默认 30s
func WithMatchCacheTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cacheTTL = d
		}
	}
}
