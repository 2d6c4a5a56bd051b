package xkeylock

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// =============================================================================
// 接口定义
// =============================================================================

// Handle 表示一次成功的锁获取。
type Handle interface {
	// Unlock 释放锁。
	// 幂等：第一次调用返回 nil，后续调用返回 [ErrLockNotHeld]。
	Unlock() error

	// Key 返回锁的 key。
	Key() string
}

// Locker 提供基于 key 的进程内互斥锁。所有方法并发安全。
type Locker interface {
	io.Closer

	// Acquire 阻塞式获取锁。
	// ctx 取消/超时时返回对应的 ctx 错误；Locker 已关闭时返回 [ErrClosed]；
	// key 为空时返回 [ErrInvalidKey]。
	Acquire(ctx context.Context, key string) (Handle, error)

	// TryAcquire 非阻塞获取锁。锁被占用时返回 (nil, nil)。
	TryAcquire(key string) (Handle, error)

	// Len 返回当前活跃的 key 数量（持有者 + 等待者），用于监控与测试。
	Len() int
}

// New 创建 Locker。配置无效时返回错误。
func New(opts ...Option) (Locker, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	shards := make([]shard, cfg.shardCount)
	for i := range shards {
		shards[i].entries = make(map[string]*lockEntry)
	}
	return &keyLock{
		shards: shards,
		mask:   uint64(cfg.shardCount - 1),
		done:   make(chan struct{}),
	}, nil
}

// =============================================================================
// 实现
// =============================================================================

type keyLock struct {
	shards   []shard
	mask     uint64
	closed   atomic.Bool
	keyCount atomic.Int64
	done     chan struct{}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// lockEntry 的 ch 是 size=1 的 channel：发送成功 = 持锁，接收 = 放锁。
// refcnt 统计持有者与等待者，归零时条目从分片中删除。
type lockEntry struct {
	ch     chan struct{}
	refcnt atomic.Int32
}

func (kl *keyLock) shardFor(key string) *shard {
	return &kl.shards[xxhash.Sum64String(key)&kl.mask]
}

func (kl *keyLock) ref(key string) (*lockEntry, error) {
	s := kl.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if kl.closed.Load() {
		return nil, ErrClosed
	}

	e, ok := s.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		s.entries[key] = e
		kl.keyCount.Add(1)
	}
	e.refcnt.Add(1)
	return e, nil
}

func (kl *keyLock) unref(key string, e *lockEntry) {
	s := kl.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.refcnt.Add(-1) == 0 {
		delete(s.entries, key)
		kl.keyCount.Add(-1)
	}
}

func (kl *keyLock) Acquire(ctx context.Context, key string) (Handle, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrInvalidKey
	}

	e, err := kl.ref(key)
	if err != nil {
		return nil, err
	}

	select {
	case e.ch <- struct{}{}:
		return &handle{kl: kl, key: key, entry: e}, nil
	case <-ctx.Done():
		kl.unref(key, e)
		return nil, ctx.Err()
	case <-kl.done:
		kl.unref(key, e)
		return nil, ErrClosed
	}
}

func (kl *keyLock) TryAcquire(key string) (Handle, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	e, err := kl.ref(key)
	if err != nil {
		return nil, err
	}

	select {
	case e.ch <- struct{}{}:
		return &handle{kl: kl, key: key, entry: e}, nil
	default:
		kl.unref(key, e)
		return nil, nil
	}
}

func (kl *keyLock) Len() int {
	return int(max(kl.keyCount.Load(), 0))
}

// Close 关闭 Locker：唤醒所有等待者并使其收到 [ErrClosed]。
// 幂等。已持有的 Handle 仍可正常 Unlock。
func (kl *keyLock) Close() error {
	if kl.closed.Swap(true) {
		return nil
	}
	close(kl.done)
	return nil
}

// =============================================================================
// Handle 实现
// =============================================================================

type handle struct {
	kl    *keyLock
	key   string
	entry *lockEntry
	done  atomic.Bool
}

func (h *handle) Unlock() error {
	if !h.done.CompareAndSwap(false, true) {
		return ErrLockNotHeld
	}
	<-h.entry.ch
	h.kl.unref(h.key, h.entry)
	return nil
}

func (h *handle) Key() string {
	return h.key
}

// 编译时接口检查
var (
	_ Locker = (*keyLock)(nil)
	_ Handle = (*handle)(nil)
)
