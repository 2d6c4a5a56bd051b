package xstore

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// =============================================================================
// 预定义错误
// =============================================================================

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrKeyNotFound key 不存在或已过期。
	ErrKeyNotFound = errors.New("xstore: key not found")

	// ErrStoreClosed 存储已关闭。
	// 在已关闭的存储上操作时返回此错误。
	ErrStoreClosed = errors.New("xstore: store is closed")

	// ErrNilClient 客户端为空。
	// 传入 nil 客户端时返回此错误。
	ErrNilClient = errors.New("xstore: client is nil")

	// ErrNilContext context 参数为空。
	// 所有公开方法都要求传入非 nil 的 context.Context。
	ErrNilContext = errors.New("xstore: context must not be nil")

	// ErrInvalidKey key 为空字符串。
	ErrInvalidKey = errors.New("xstore: key must not be empty")

	// ErrInvalidArgument 参数不合法。
	// 负的 ttl/cost、非正的 capacity/rate/window 等返回此错误。
	ErrInvalidArgument = errors.New("xstore: invalid argument")

	// ErrWrongKind 对 key 执行了与其现有数据类型不匹配的操作。
	// 例如对字符串值执行 Increment。
	ErrWrongKind = errors.New("xstore: operation applied to wrong value kind")

	// ErrUnavailable 后端存储不可用。
	// 网络失败、集群故障等基础设施错误统一包装此错误，
	// 调用方用 errors.Is(err, ErrUnavailable) 判定降级。
	ErrUnavailable = errors.New("xstore: backend unavailable")

	// ErrLockNotHeld 释放了未持有的锁。
	ErrLockNotHeld = errors.New("xstore: lock not held")

	// errUnexpectedScriptResult Lua 脚本返回结果不符合预期（内部使用）
	errUnexpectedScriptResult = errors.New("xstore: unexpected script result")
)

// =============================================================================
// 错误检查函数
// =============================================================================

// transientErrors 包含视为后端不可用的已知错误
var transientErrors = []error{
	ErrUnavailable,
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
	io.EOF,
	io.ErrUnexpectedEOF,
}

// IsUnavailable 检查错误是否表示后端存储不可用。
//
// 使用错误链检查而非字符串匹配。context.Canceled 和
// context.DeadlineExceeded 不视为存储不可用——这是调用方超时，
// 是否降级由调用方的失败策略决定。
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	for _, target := range transientErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	// 集群路由/加载类错误：go-redis 自动处理失败后才会传到这里
	if isClusterRoutingError(err) {
		return true
	}

	return isNetworkError(err)
}

// isClusterRoutingError 检查 Redis Cluster / 代理类错误。
// 这些错误文本由服务端返回，go-redis 将其作为字符串错误透传。
func isClusterRoutingError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, kw := range []string{"CLUSTERDOWN", "MASTERDOWN", "READONLY", "LOADING", "unknown command"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// isNetworkError 检查是否是网络相关错误
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsNotFound 检查是否是 key 不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
