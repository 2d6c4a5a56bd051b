package xbreaker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type options struct {
	failureThreshold int64
	failureWindow    time.Duration
	resetTimeout     time.Duration
	successThreshold int64
	syncInterval     time.Duration
	keyPrefix        string
	isFailure        func(error) bool
	fallback         func(ctx context.Context, cause error) error
	onStateChange    func(name string, from, to State)
	logger           *slog.Logger
	clock            func() time.Time
	tracerProvider   trace.TracerProvider
}

// Option 配置熔断器。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		failureThreshold: 5,
		failureWindow:    60 * time.Second,
		resetTimeout:     60 * time.Second,
		successThreshold: 2,
		syncInterval:     time.Second,
		keyPrefix:        "xbreaker:",
		isFailure:        func(err error) bool { return err != nil },
		logger:           slog.Default(),
		clock:            time.Now,
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

// WithFailureThreshold 设置触发熔断的失败次数阈值。
//
// 默认值：5
func WithFailureThreshold(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.failureThreshold = n
		}
	}
}

// WithFailureWindow 设置失败计数的时间窗口。
// 距首次失败超过窗口后，计数重新起算。
//
// 默认值：60 秒
func WithFailureWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.failureWindow = d
		}
	}
}

// WithResetTimeout 设置从 open 转入 half_open 探测的冷却时间。
//
// 默认值：60 秒
func WithResetTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.resetTimeout = d
		}
	}
}

// WithSuccessThreshold 设置半开状态下恢复 closed 所需的连续成功次数。
//
// 默认值：2
func WithSuccessThreshold(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.successThreshold = n
		}
	}
}

// WithSyncInterval 设置从 Store 重同步共享状态的最小间隔。
// 0 表示每次调用都重同步（测试或强一致场景）。
//
// 默认值：1 秒
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.syncInterval = d
		}
	}
}

// WithKeyPrefix 设置共享状态的 Store key 前缀。
//
// 默认值："xbreaker:"
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithIsFailure 设置失败判定谓词。
//
// 默认任何非 nil 错误都计为失败。典型用法是把业务可预期的错误
// （如"未找到"）排除在熔断统计之外：
//
//	xbreaker.WithIsFailure(func(err error) bool {
//	    return err != nil && !errors.Is(err, ErrNotFound)
//	})
func WithIsFailure(f func(error) bool) Option {
	return func(o *options) {
		if f != nil {
			o.isFailure = f
		}
	}
}

// WithFallback 设置熔断拒绝时的降级函数，代替 *OpenError 返回。
// cause 为本应返回的熔断错误。泛型 Execute 走降级时返回零值与
// 降级函数的结果。
func WithFallback(f func(ctx context.Context, cause error) error) Option {
	return func(o *options) {
		o.fallback = f
	}
}

// WithOnStateChange 设置状态迁移回调，可用于打点与告警。
// 本地迁移和从 Store 采纳的远端迁移都会触发。
func WithOnStateChange(f func(name string, from, to State)) Option {
	return func(o *options) {
		o.onStateChange = f
	}
}

// WithLogger 设置日志器。传 nil 使用 slog.Default()。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
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

// WithTracerProvider 设置 OpenTelemetry TracerProvider。
// 未设置时使用全局 TracerProvider（默认是 noop）。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
