package xbreaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOpen 表示熔断器处于打开状态，调用被直接拒绝。
	// 实际返回的错误是 *OpenError，携带熔断器名称与剩余等待时间，
	// 本哨兵用于 errors.Is 判断。
	ErrOpen = errors.New("xbreaker: circuit open")

	// ErrNilStore 表示构造时传入了 nil Store。
	ErrNilStore = errors.New("xbreaker: store cannot be nil")

	// ErrEmptyName 表示熔断器名称为空。名称是共享状态的 key，不可缺省。
	ErrEmptyName = errors.New("xbreaker: name cannot be empty")

	// ErrNilContext 传入的 context 为 nil。
	ErrNilContext = errors.New("xbreaker: context cannot be nil")

	// ErrNilFunc 传入的操作函数为 nil。
	ErrNilFunc = errors.New("xbreaker: function cannot be nil")

	// ErrNilBreaker 传入的 Breaker 为 nil。
	ErrNilBreaker = errors.New("xbreaker: breaker cannot be nil")
)

// OpenError 是熔断打开时的拒绝错误。
//
// 设计决策: Name/Remaining 保留为导出字段，便于调用方在日志和告警中
// 直接读取，而不必解析错误文本。
type OpenError struct {
	// Name 熔断器名称。
	Name string

	// Remaining 距进入半开探测的剩余时间。
	Remaining time.Duration
}

// Error 实现 error 接口。
func (e *OpenError) Error() string {
	return fmt.Sprintf("xbreaker: circuit %q open, retry in %v", e.Name, e.Remaining.Round(time.Millisecond))
}

// Is 使 errors.Is(err, ErrOpen) 成立。
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// IsOpen 判断错误是否为熔断打开错误。
//
// 示例:
//
//	err := breaker.Do(ctx, fn)
//	if xbreaker.IsOpen(err) {
//	    return cachedValue, nil // 走降级
//	}
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
