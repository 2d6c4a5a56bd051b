package xstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Redis 后端
// =============================================================================

// redisStore 是 go-redis/v9 后盘的 Store 实现。
//
// 四个读-改-写操作全部通过服务端 Lua 脚本执行，
// 每个操作对所有客户端是单个原子步骤。滑动窗口使用 ZSET
// （score = Unix 毫秒），桶状态使用 HASH（level + ts）。
type redisStore struct {
	client  redis.UniversalClient
	opts    *redisOptions
	scripts *scripts
	rs      *redsync.Redsync
	closed  atomic.Bool
}

// =============================================================================
// 配置选项
// =============================================================================

type redisOptions struct {
	readAttempts   uint
	readRetryDelay time.Duration
	lockTries      int
	lockRetryDelay time.Duration
}

// RedisOption 配置 Redis 存储。
type RedisOption func(*redisOptions)

func defaultRedisOptions() *redisOptions {
	return &redisOptions{
		readAttempts:   3,
		readRetryDelay: 20 * time.Millisecond,
		lockTries:      16,
		lockRetryDelay: 50 * time.Millisecond,
	}
}

// WithReadRetry 设置纯读操作（Get、SlidingWindowCount）对瞬时网络错误
// 的重试次数（含首次）与基础间隔。写路径不重试：重复执行脚本会重复扣减。
func WithReadRetry(attempts uint, delay time.Duration) RedisOption {
	return func(o *redisOptions) {
		if attempts > 0 {
			o.readAttempts = attempts
		}
		if delay > 0 {
			o.readRetryDelay = delay
		}
	}
}

// WithLockRetry 设置 Lock 获取锁的最大尝试次数与间隔。
func WithLockRetry(tries int, delay time.Duration) RedisOption {
	return func(o *redisOptions) {
		if tries > 0 {
			o.lockTries = tries
		}
		if delay > 0 {
			o.lockRetryDelay = delay
		}
	}
}

// NewRedis 创建 Redis 存储。
//
// client 的生命周期由调用方管理，Close 不会关闭它。
// 多副本指向同一 Redis 时自动共享全部准入状态。
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	cfg := defaultRedisOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	return &redisStore{
		client:  client,
		opts:    cfg,
		scripts: getScripts(),
		rs:      redsync.New(goredis.NewPool(client)),
	}, nil
}

// =============================================================================
// Store 实现
// =============================================================================

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.guard(ctx, key); err != nil {
		return "", err
	}

	var val string
	err := s.readRetry(ctx, func() error {
		v, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		return "", redisError(err)
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}
	if ttl < 0 {
		return ErrInvalidArgument
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return redisError(err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return redisError(err)
	}
	return nil
}

func (s *redisStore) Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, ErrInvalidArgument
	}

	val, err := s.scripts.increment.Run(ctx, s.client, []string{key}, by, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, redisError(err)
	}
	return val, nil
}

func (s *redisStore) SlidingWindowAdd(ctx context.Context, key string, ts time.Time, window time.Duration, n int64) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	if window <= 0 || n <= 0 {
		return 0, ErrInvalidArgument
	}

	// 成员前缀必须全局唯一：同一毫秒内多个进程写入同一窗口时，
	// 重复成员会被 ZADD 去重导致少计
	member := uuid.NewString()

	val, err := s.scripts.slidingAdd.Run(ctx, s.client, []string{key},
		ts.UnixMilli(),
		window.Milliseconds(),
		n,
		member,
		keyTTLMargin.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, redisError(err)
	}
	return val, nil
}

func (s *redisStore) SlidingWindowCount(ctx context.Context, key string, from, to time.Time) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}

	var count int64
	err := s.readRetry(ctx, func() error {
		c, err := s.client.ZCount(ctx, key,
			strconv.FormatInt(from.UnixMilli(), 10),
			strconv.FormatInt(to.UnixMilli(), 10),
		).Result()
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	if err != nil {
		return 0, redisError(err)
	}
	return count, nil
}

func (s *redisStore) TokenBucketConsume(ctx context.Context, key string, capacity int64, refillPerSec float64, cost int64, now time.Time) (ConsumeResult, error) {
	return s.consumeBucket(ctx, s.scripts.tokenBucket, key, capacity, refillPerSec, cost, now)
}

func (s *redisStore) LeakyBucketConsume(ctx context.Context, key string, capacity int64, leakPerSec float64, cost int64, now time.Time) (ConsumeResult, error) {
	return s.consumeBucket(ctx, s.scripts.leakyBucket, key, capacity, leakPerSec, cost, now)
}

func (s *redisStore) consumeBucket(ctx context.Context, script *redis.Script, key string, capacity int64, rate float64, cost int64, now time.Time) (ConsumeResult, error) {
	if err := s.guard(ctx, key); err != nil {
		return ConsumeResult{}, err
	}
	if capacity <= 0 || rate <= 0 || cost < 0 {
		return ConsumeResult{}, ErrInvalidArgument
	}

	ttl := bucketTTL(capacity, rate) + keyTTLMargin

	val, err := script.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		capacity,
		rate,
		cost,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return ConsumeResult{}, redisError(err)
	}

	result, err := convertScriptResult(val)
	if err != nil {
		return ConsumeResult{}, err
	}
	if err := validateScriptResult(result, 3); err != nil {
		return ConsumeResult{}, err
	}

	return ConsumeResult{
		Allowed:    result[0] == 1,
		Remaining:  result[1],
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

func (s *redisStore) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil // 已关闭
	}
	// Redis 客户端由调用者管理，这里不关闭
	return nil
}

// =============================================================================
// Locker 实现（redsync）
// =============================================================================

const lockKeyPrefix = "xstore:lock:"

// Lock 通过 redsync 获取跨进程互斥锁。
// 锁值为 UUID，持有者崩溃后锁在 ttl 到期时自动释放。
func (s *redisStore) Lock(ctx context.Context, name string, ttl time.Duration) (Unlocker, error) {
	if err := s.guard(ctx, name); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, ErrInvalidArgument
	}

	mutex := s.rs.NewMutex(lockKeyPrefix+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(s.opts.lockTries),
		redsync.WithRetryDelay(s.opts.lockRetryDelay),
		redsync.WithGenValueFunc(func() (string, error) {
			return uuid.NewString(), nil
		}),
	)

	if err := mutex.LockContext(ctx); err != nil {
		// redsync 不透传 context 错误，单独检查
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, redisError(err)
	}
	return &redisUnlocker{mutex: mutex}, nil
}

type redisUnlocker struct {
	mutex *redsync.Mutex
}

func (u *redisUnlocker) Unlock(ctx context.Context) error {
	ok, err := u.mutex.UnlockContext(ctx)
	if err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return ErrLockNotHeld
		}
		return redisError(err)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}

// =============================================================================
// 内部辅助
// =============================================================================

func (s *redisStore) guard(ctx context.Context, key string) error {
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

// readRetry 对纯读操作做有限次重试，仅重试瞬时基础设施错误。
func (s *redisStore) readRetry(ctx context.Context, fn func() error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(s.opts.readAttempts),
		retry.Delay(s.opts.readRetryDelay),
		retry.MaxJitter(s.opts.readRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsUnavailable),
	).Do(fn)
}

// redisError 将 go-redis 错误映射到 xstore 错误域。
//
// redis.Nil → ErrKeyNotFound；类型不匹配 → ErrWrongKind；
// context 错误原样透传；其余一律视为后端不可用。
func redisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, redis.Nil) {
		return ErrKeyNotFound
	}

	msg := err.Error()
	if strings.HasPrefix(msg, "WRONGTYPE") || strings.Contains(msg, "not an integer") {
		return ErrWrongKind
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// 编译时接口检查
var (
	_ Store  = (*redisStore)(nil)
	_ Locker = (*redisStore)(nil)
)
