package xqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/omeyang/gatekit/pkg/util/xid"
)

// IDGeneratorFunc 为空 ID 的排队项生成唯一标识。
type IDGeneratorFunc func(ctx context.Context) (string, error)

type options struct {
	logger       *slog.Logger
	pollInterval time.Duration
	clock        func() time.Time
	idGenerator  IDGeneratorFunc
}

// Option 配置队列。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger:       slog.Default(),
		pollInterval: 100 * time.Millisecond,
		clock:        time.Now,
		idGenerator:  xid.NewStringWithRetry,
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

// WithLogger 设置日志器。传 nil 使用 slog.Default()。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPollInterval 设置消费循环的兜底轮询间隔。
// 入队信号是主要唤醒途径，轮询只兜底信号丢失与过期项清理。
//
// 默认值：100ms
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock 注入时钟，用于测试过期语义。
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator 设置 ID 生成函数。
// 默认使用 xid.NewStringWithRetry（时钟回拨时自动等待重试）。
func WithIDGenerator(fn IDGeneratorFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.idGenerator = fn
		}
	}
}
