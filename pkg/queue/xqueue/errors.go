package xqueue

import "errors"

var (
	// ErrInvalidCapacity 队列容量必须为正数。
	ErrInvalidCapacity = errors.New("xqueue: capacity must be positive")

	// ErrNilHandler 处理函数不能为 nil。
	ErrNilHandler = errors.New("xqueue: handler cannot be nil")

	// ErrAlreadyProcessing 队列已有消费循环在运行。
	ErrAlreadyProcessing = errors.New("xqueue: already processing")
)
