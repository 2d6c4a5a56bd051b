package xstore

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omeyang/gatekit/pkg/util/xkeylock"
)

// =============================================================================
// 内存后端
// =============================================================================

type entryKind uint8

const (
	kindString entryKind = iota
	kindCounter
	kindWindow
	kindToken
	kindLeaky
)

// memEntry 是内存存储中单个 key 的状态。
// 不同操作族使用不同字段，kind 标记当前生效的数据类型。
type memEntry struct {
	kind     entryKind
	expireAt time.Time // 零值表示永不过期
	str      string
	counter  int64
	window   []int64 // Unix 毫秒时间戳，升序
	bucket   bucketState
}

// memoryStore 是互斥锁保护的进程内 Store 实现。
//
// 语义与分布式后端一致：同一套原子操作、同一套惰性补充公式、
// 同一套过期边界（expireAt <= now 视为已过期）。
// 周期性清扫 goroutine 负责回收过期条目，读路径同时做惰性过期检查。
type memoryStore struct {
	opts   *memoryOptions
	mu     sync.Mutex
	items  map[string]*memEntry
	locks  xkeylock.Locker
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// =============================================================================
// 配置选项
// =============================================================================

type memoryOptions struct {
	sweepInterval time.Duration
	clock         func() time.Time
}

// MemoryOption 配置内存存储。
type MemoryOption func(*memoryOptions)

func defaultMemoryOptions() *memoryOptions {
	return &memoryOptions{
		sweepInterval: 30 * time.Second,
		clock:         time.Now,
	}
}

// WithSweepInterval 设置过期清扫周期。d <= 0 时忽略。
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithClock 注入时钟，用于测试中控制 Get/Set 的过期判定。
// 窗口与桶操作的时间始终来自调用方参数，不走该时钟。
func WithClock(clock func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewMemory 创建内存存储。
//
// 适用于单进程部署和测试。多副本部署下各副本各自计数，
// 限额会被放大副本数倍，需要全局限额时使用 NewRedis/NewEtcd。
func NewMemory(opts ...MemoryOption) (Store, error) {
	cfg := defaultMemoryOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	locks, err := xkeylock.New()
	if err != nil {
		return nil, err
	}

	s := &memoryStore{
		opts:  cfg,
		items: make(map[string]*memEntry),
		locks: locks,
		done:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s, nil
}

// =============================================================================
// Store 实现
// =============================================================================

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.guard(ctx, key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return "", ErrKeyNotFound
	}
	switch e.kind {
	case kindString:
		return e.str, nil
	case kindCounter:
		// 计数器以数字字符串形式可读，与 Redis 的 GET 行为一致
		return strconv.FormatInt(e.counter, 10), nil
	default:
		return "", ErrWrongKind
	}
}

func (s *memoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}
	if ttl < 0 {
		return ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memEntry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = s.opts.clock().Add(ttl)
	}
	s.items[key] = e
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *memoryStore) Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memEntry{kind: kindCounter, counter: by}
		if ttl > 0 {
			e.expireAt = s.opts.clock().Add(ttl)
		}
		s.items[key] = e
		return e.counter, nil
	}

	switch e.kind {
	case kindCounter:
		e.counter += by
	case kindString:
		// 数字字符串可原位转为计数器，与 Redis 的 INCRBY 行为一致
		n, err := strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, ErrWrongKind
		}
		e.kind = kindCounter
		e.counter = n + by
		e.str = ""
	default:
		return 0, ErrWrongKind
	}
	return e.counter, nil
}

func (s *memoryStore) SlidingWindowAdd(ctx context.Context, key string, ts time.Time, window time.Duration, n int64) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	if window <= 0 || n <= 0 {
		return 0, ErrInvalidArgument
	}

	tsMS := ts.UnixMilli()
	cutoff := tsMS - window.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memEntry{kind: kindWindow}
		s.items[key] = e
	}
	if e.kind != kindWindow {
		return 0, ErrWrongKind
	}

	e.window = windowPrune(e.window, cutoff)
	e.window = windowInsert(e.window, tsMS, int(n))
	e.expireAt = time.UnixMilli(tsMS).Add(window + keyTTLMargin)

	return windowCount(e.window, cutoff, tsMS), nil
}

func (s *memoryStore) SlidingWindowCount(ctx context.Context, key string, from, to time.Time) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindWindow {
		return 0, ErrWrongKind
	}
	return windowCount(e.window, from.UnixMilli(), to.UnixMilli()), nil
}

func (s *memoryStore) TokenBucketConsume(ctx context.Context, key string, capacity int64, refillPerSec float64, cost int64, now time.Time) (ConsumeResult, error) {
	return s.consumeBucket(ctx, key, kindToken, capacity, refillPerSec, cost, now)
}

func (s *memoryStore) LeakyBucketConsume(ctx context.Context, key string, capacity int64, leakPerSec float64, cost int64, now time.Time) (ConsumeResult, error) {
	return s.consumeBucket(ctx, key, kindLeaky, capacity, leakPerSec, cost, now)
}

func (s *memoryStore) consumeBucket(ctx context.Context, key string, kind entryKind, capacity int64, rate float64, cost int64, now time.Time) (ConsumeResult, error) {
	if err := s.guard(ctx, key); err != nil {
		return ConsumeResult{}, err
	}
	if capacity <= 0 || rate <= 0 || cost < 0 {
		return ConsumeResult{}, ErrInvalidArgument
	}

	nowMS := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		st := newLeakyBucket(nowMS)
		if kind == kindToken {
			st = newTokenBucket(capacity, nowMS)
		}
		e = &memEntry{kind: kind, bucket: st}
		if cost > 0 {
			s.items[key] = e
		}
	}
	if e.kind != kind {
		return ConsumeResult{}, ErrWrongKind
	}

	step := leakyBucketStep
	if kind == kindToken {
		step = tokenBucketStep
	}
	st, res := step(e.bucket, capacity, rate, cost, nowMS)

	// cost=0 是只读探测，状态不落盘
	if cost > 0 {
		e.bucket = st
		e.expireAt = now.Add(bucketTTL(capacity, rate) + keyTTLMargin)
	}
	return res, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil // 已关闭
	}
	close(s.done)
	s.wg.Wait()
	return s.locks.Close()
}

// =============================================================================
// Locker 实现
// =============================================================================

// Lock 获取进程内命名互斥锁。
//
// 进程内锁不会因持有者崩溃而悬挂（进程崩溃时存储本身一并消失），
// 因此 ttl 参数在内存后端中不生效。
func (s *memoryStore) Lock(ctx context.Context, name string, _ time.Duration) (Unlocker, error) {
	if err := s.guard(ctx, name); err != nil {
		return nil, err
	}

	h, err := s.locks.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	return &memUnlocker{h: h}, nil
}

type memUnlocker struct {
	h xkeylock.Handle
}

func (u *memUnlocker) Unlock(_ context.Context) error {
	if err := u.h.Unlock(); err != nil {
		return ErrLockNotHeld
	}
	return nil
}

// =============================================================================
// 内部辅助
// =============================================================================

func (s *memoryStore) guard(ctx context.Context, key string) error {
	if ctx == nil {
		return ErrNilContext
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if key == "" {
		return ErrInvalidKey
	}
	return ctx.Err()
}

// live 返回 key 对应的未过期条目，过期条目顺手删除。
// 调用方必须持有 s.mu。
func (s *memoryStore) live(key string) *memEntry {
	e, ok := s.items[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !e.expireAt.After(s.opts.clock()) {
		delete(s.items, key)
		return nil
	}
	return e
}

func (s *memoryStore) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *memoryStore) evictExpired() {
	now := s.opts.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.items {
		if !e.expireAt.IsZero() && !e.expireAt.After(now) {
			delete(s.items, k)
		}
	}
}

// 编译时接口检查
var (
	_ Store  = (*memoryStore)(nil)
	_ Locker = (*memoryStore)(nil)
)
