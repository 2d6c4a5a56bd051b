package xalgo

import "errors"

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrUnknownAlgorithm 算法名称未注册。
	// 通常是配置写错了算法名，应当启动时快速失败。
	ErrUnknownAlgorithm = errors.New("xalgo: unknown algorithm")

	// ErrNilStore 存储为空。
	ErrNilStore = errors.New("xalgo: store is nil")

	// ErrInvalidArgument 参数不合法。
	// 非正的 limit/window/cost、负的 burst 等返回此错误。
	ErrInvalidArgument = errors.New("xalgo: invalid argument")
)
