package xquota

import "errors"

var (
	// ErrNilStore 表示构造时传入了 nil Store。
	ErrNilStore = errors.New("xquota: store cannot be nil")

	// ErrUnknownQuota 表示配额名未注册。配额名来自配置，
	// 写错应当立即暴露而不是静默放行。
	ErrUnknownQuota = errors.New("xquota: unknown quota")

	// ErrInvalidDefinition 表示配额定义不合法。
	ErrInvalidDefinition = errors.New("xquota: invalid definition")

	// ErrInvalidArgument 表示调用参数不合法。
	ErrInvalidArgument = errors.New("xquota: invalid argument")
)
