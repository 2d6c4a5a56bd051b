package xid

import "time"

type options struct {
	machineID      func() (uint16, error)
	checkMachineID func(uint16) bool
	maxWait        time.Duration
	retryInterval  time.Duration
}

// Option 配置 Generator。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		maxWait:       DefaultMaxWaitDuration,
		retryInterval: DefaultRetryInterval,
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

// WithMachineID 设置机器 ID 获取函数，替代 DefaultMachineID 的策略链。
func WithMachineID(fn func() (uint16, error)) Option {
	return func(o *options) {
		o.machineID = fn
	}
}

// WithMachineIDCheck 设置机器 ID 校验函数，返回 false 时 NewGenerator 失败。
// 可用于对接外部注册表做启动期唯一性检查。
func WithMachineIDCheck(fn func(uint16) bool) Option {
	return func(o *options) {
		o.checkMachineID = fn
	}
}

// WithMaxWaitDuration 设置时钟回拨时的最大累计等待时间。
// 0 表示不等待（回拨立即报错）。
//
// 默认值：500ms
func WithMaxWaitDuration(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.maxWait = d
		}
	}
}

// WithRetryInterval 设置时钟回拨重试间隔。
//
// 默认值：10ms
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}
