package xlru

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxSize 缓存条目数上限
const maxSize = 1 << 24

// Option 缓存可选配置函数
type Option[K comparable, V any] func(*options[K, V])

type options[K comparable, V any] struct {
	onEvicted func(key K, value V)
}

// WithOnEvicted 设置条目被淘汰时的回调。
//
// 回调在底层库的互斥锁内同步执行。回调中严禁调用 Cache 自身的
// 任何方法（会死锁），也应避免耗时操作；复杂逻辑应发送到
// 外部 channel 异步处理。
func WithOnEvicted[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(o *options[K, V]) {
		o.onEvicted = fn
	}
}

// Cache 带 TTL 的 LRU 缓存。
//
// 必须通过 New 创建，零值不可用。所有方法并发安全。
// Close 后读操作返回零值/false，写操作静默忽略。
type Cache[K comparable, V any] struct {
	lru       *expirable.LRU[K, V]
	closed    atomic.Bool
	closeOnce sync.Once
}

// New 创建缓存。
//
// size 必须在 (0, 16777216] 区间内；ttl 为 0 表示永不过期，不允许负值。
func New[K comparable, V any](size int, ttl time.Duration, opts ...Option[K, V]) (*Cache[K, V], error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if size > maxSize {
		return nil, ErrSizeExceedsMax
	}
	if ttl < 0 {
		return nil, ErrInvalidTTL
	}

	o := &options[K, V]{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return &Cache[K, V]{
		lru: expirable.NewLRU(size, o.onEvicted, ttl),
	}, nil
}

// Get 获取缓存值，不存在、已过期或缓存已关闭时返回零值和 false
func (c *Cache[K, V]) Get(key K) (value V, ok bool) {
	if c.closed.Load() {
		return value, false
	}
	return c.lru.Get(key)
}

// Set 写入缓存值，返回是否触发了 LRU 淘汰。
//
// key 已存在时更新值并刷新 TTL，不触发淘汰。缓存已关闭时静默忽略。
func (c *Cache[K, V]) Set(key K, value V) bool {
	if c.closed.Load() {
		return false
	}
	return c.lru.Add(key, value)
}

// Delete 删除条目，返回 key 是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	if c.closed.Load() {
		return false
	}
	return c.lru.Remove(key)
}

// Peek 获取缓存值但不刷新 LRU 顺序
func (c *Cache[K, V]) Peek(key K) (value V, ok bool) {
	if c.closed.Load() {
		return value, false
	}
	return c.lru.Peek(key)
}

// Purge 清空所有条目
func (c *Cache[K, V]) Purge() {
	if c.closed.Load() {
		return
	}
	c.lru.Purge()
}

// Len 返回当前条目数。
//
// 可能包含已过期但尚未被后台清理的条目。
func (c *Cache[K, V]) Len() int {
	if c.closed.Load() {
		return 0
	}
	return c.lru.Len()
}

// Close 关闭缓存，幂等。
//
// 清空全部条目并停止底层 TTL 清理 goroutine。closed 标记与 lru 操作
// 之间存在微小的 TOCTOU 窗口：Purge 后的底层 LRU 仍是有效对象（只是为空），
// 关闭瞬间的并发操作不会 panic，只有短暂的可见性差异。
func (c *Cache[K, V]) Close() {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.lru.Purge()
		stopCleanupGoroutine(c.lru)
	})
}

// stopCleanupGoroutine 停止 expirable.LRU 内部的清理 goroutine。
//
// hashicorp/golang-lru/v2@v2.0.7 在 TTL > 0 时启动后台 goroutine 清理
// 过期条目，但没有公开的停止方法（上游源码注明留待 v2 之后的版本）。
// 这里通过 reflect + unsafe 找到内部 done 通道（chan struct{}）并关闭，
// 让后台 goroutine 退出。上游结构变化时降级为无操作并返回 false，
// TestUpstreamDoneFieldIntact 负责在升级时暴露这种变化。
//
// 维护须知: 升级 golang-lru 后若上游已提供 Close，删除此函数改用上游实现。
func stopCleanupGoroutine(lru any) (stopped bool) {
	defer func() {
		// done 通道可能已被关闭，close 的 panic 静默降级
		if r := recover(); r != nil {
			stopped = false
		}
	}()

	v := reflect.ValueOf(lru)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}

	doneField := v.Elem().FieldByName("done")
	if !doneField.IsValid() || doneField.IsNil() {
		return false
	}
	if doneField.Type() != reflect.TypeOf(make(chan struct{})) {
		return false
	}

	doneCh := *(*chan struct{})(unsafe.Pointer(doneField.UnsafeAddr())) //nolint:gosec // 有意访问上游未导出字段
	close(doneCh)
	return true
}
