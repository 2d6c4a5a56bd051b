package xkeylock

import "errors"

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrClosed Locker 已关闭。
	ErrClosed = errors.New("xkeylock: locker is closed")

	// ErrLockNotHeld 重复 Unlock 或锁未被持有。
	ErrLockNotHeld = errors.New("xkeylock: lock not held")

	// ErrInvalidKey key 为空字符串。
	ErrInvalidKey = errors.New("xkeylock: key must not be empty")

	// ErrNilContext context 参数为空。
	ErrNilContext = errors.New("xkeylock: context must not be nil")

	// ErrInvalidShardCount 分片数必须是 2 的幂。
	ErrInvalidShardCount = errors.New("xkeylock: shard count must be a power of two")
)
