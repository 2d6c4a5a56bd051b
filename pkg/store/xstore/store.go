package xstore

import (
	"context"
	"time"
)

// =============================================================================
// Store 接口定义
// =============================================================================

// Store 定义准入控制共享状态存储的统一契约。
//
// 所有方法对跨进程并发调用保持原子性：同一 key 上的读-改-写操作
// 不会交错。限流算法、熔断器、配额管理只依赖本接口，
// 不感知底层是内存、Redis 还是 etcd。
//
// 时间语义：窗口与桶操作的时间由调用方传入（ts/now 参数），
// 存储端不读取自身时钟，保证多副本之间以调用方时钟为准。
type Store interface {
	// Get 读取 key 的字符串值。
	// key 不存在或已过期时返回 [ErrKeyNotFound]。
	Get(ctx context.Context, key string) (string, error)

	// Set 写入字符串值。
	// ttl > 0 时到期自动删除；ttl = 0 表示永不过期。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete 删除 key。key 不存在时不报错。
	Delete(ctx context.Context, key string) error

	// Increment 原子递增计数器并返回递增后的值。
	// key 不存在时以 by 为初值创建，并在 ttl > 0 时设置过期；
	// key 已存在时保留原有过期时间。
	Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error)

	// SlidingWindowAdd 向滑动窗口写入 n 条时间戳为 ts 的条目，
	// 清理早于 ts-window 的旧条目，返回写入后落在 [ts-window, ts]
	// 闭区间内的条目总数。整个操作是一个原子步骤。
	// 窗口 key 在最后一次写入后约 window 时长自动过期。
	SlidingWindowAdd(ctx context.Context, key string, ts time.Time, window time.Duration, n int64) (int64, error)

	// SlidingWindowCount 统计窗口内 [from, to] 闭区间的条目数。
	// 纯只读操作，不清理、不写入。
	SlidingWindowCount(ctx context.Context, key string, from, to time.Time) (int64, error)

	// TokenBucketConsume 对令牌桶执行一次消费。
	//
	// 桶状态按 now 与上次更新时间的流逝惰性补充令牌
	// （refillPerSec 个/秒，上限 capacity），无后台定时器。
	// 新桶初始为满。cost = 0 表示只读探测，不修改任何状态。
	// 令牌不足时拒绝且不扣减。
	TokenBucketConsume(ctx context.Context, key string, capacity int64, refillPerSec float64, cost int64, now time.Time) (ConsumeResult, error)

	// LeakyBucketConsume 对漏桶执行一次消费。
	//
	// 水位按流逝时间惰性渗漏（leakPerSec 个/秒，下限 0），新桶初始为空。
	// cost = 0 表示只读探测。注水后将溢出 capacity 时拒绝且不注水。
	LeakyBucketConsume(ctx context.Context, key string, capacity int64, leakPerSec float64, cost int64, now time.Time) (ConsumeResult, error)

	// Close 关闭存储，停止后台任务。
	// 关闭后的操作返回 [ErrStoreClosed]。底层客户端由调用方管理，不会被关闭。
	Close(ctx context.Context) error
}

// ConsumeResult 是桶类消费操作的结果。
type ConsumeResult struct {
	// Allowed 本次消费是否被接受。
	Allowed bool

	// Remaining 消费后的剩余额度（令牌桶为剩余令牌数，
	// 漏桶为剩余可注入容量），向下取整，永不为负。
	Remaining int64

	// RetryAfter 被拒绝时距离本次 cost 可被接受的最短等待时间；
	// 接受时为 0。
	RetryAfter time.Duration
}

// =============================================================================
// 可选能力接口
// =============================================================================

// Unlocker 表示一次成功的锁获取，由 [Locker.Lock] 返回。
type Unlocker interface {
	// Unlock 释放锁。锁已丢失（过期或被抢占）时返回 [ErrLockNotHeld]。
	Unlock(ctx context.Context) error
}

// Locker 是存储的可选能力接口：跨进程命名互斥锁。
//
// 通过类型断言发现，调用方必须容忍存储不具备该能力：
//
//	if lk, ok := store.(xstore.Locker); ok {
//	    handle, err := lk.Lock(ctx, "breaker:orders", time.Second)
//	    ...
//	}
//
// 内存存储的锁仅在进程内生效；Redis 存储基于 redsync 提供跨进程互斥。
type Locker interface {
	// Lock 阻塞式获取名为 name 的锁，ttl 为锁的自动过期时间。
	// ctx 取消/超时时返回 ctx 错误。
	Lock(ctx context.Context, name string, ttl time.Duration) (Unlocker, error)
}
