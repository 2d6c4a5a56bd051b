package xquota

import (
	"log/slog"
	"time"
)

type options struct {
	keyPrefix string
	logger    *slog.Logger
	clock     func() time.Time
}

// Option 配置 Manager。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		keyPrefix: "xquota:",
		logger:    slog.Default(),
		clock:     time.Now,
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

// WithKeyPrefix 设置计数器 key 前缀，多套配额共用一个 Store 时隔离命名空间。
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithLogger 设置日志器。传 nil 使用 slog.Default()。
// 如需禁用日志，可传入 slog.New(slog.NewTextHandler(io.Discard, nil))。
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
