// Package storetest 提供 xstore.Store 契约的一致性测试套件。
//
// 每个后端的测试包通过 Run 执行同一组断言，保证三个后端
// （memory / redis / etcd）对同一操作序列给出一致结果。
// 套件只依赖 Store 接口可观测的行为，不触碰后端内部状态，
// 也不依赖真实时钟——窗口与桶操作的时间全部由调用方参数给定。
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// Factory 创建一个待测的空 Store。
// 实现方负责通过 t.Cleanup 关闭 Store 及其后端。
type Factory func(t *testing.T) xstore.Store

// 测试用固定基准时间，避免依赖真实时钟
var base = time.Unix(1700000000, 0).UTC()

// keyspace 返回本次测试独有的 key 前缀。
// 对持久化后端（真实 etcd/Redis）重复运行测试时避免与历史状态冲突。
func keyspace(t *testing.T) func(string) string {
	prefix := fmt.Sprintf("storetest:%s:%d:", t.Name(), time.Now().UnixNano())
	return func(s string) string { return prefix + s }
}

// Run 对 factory 创建的 Store 执行完整的契约测试。
func Run(t *testing.T, factory Factory) {
	t.Run("KV", func(t *testing.T) { testKV(t, factory) })
	t.Run("Increment", func(t *testing.T) { testIncrement(t, factory) })
	t.Run("SlidingWindow", func(t *testing.T) { testSlidingWindow(t, factory) })
	t.Run("TokenBucket", func(t *testing.T) { testTokenBucket(t, factory) })
	t.Run("LeakyBucket", func(t *testing.T) { testLeakyBucket(t, factory) })
	t.Run("Guards", func(t *testing.T) { testGuards(t, factory) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, factory) })
	t.Run("Locker", func(t *testing.T) { testLocker(t, factory) })
}

func testKV(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	k := keyspace(t)

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, k("kv:missing"))
		assert.ErrorIs(t, err, xstore.ErrKeyNotFound)
		assert.True(t, xstore.IsNotFound(err))
	})

	t.Run("set get roundtrip", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("kv:a"), "hello", 0))
		got, err := s.Get(ctx, k("kv:a"))
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("kv:b"), "v1", 0))
		require.NoError(t, s.Set(ctx, k("kv:b"), "v2", 0))
		got, err := s.Get(ctx, k("kv:b"))
		require.NoError(t, err)
		assert.Equal(t, "v2", got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("kv:c"), "v", 0))
		require.NoError(t, s.Delete(ctx, k("kv:c")))
		_, err := s.Get(ctx, k("kv:c"))
		assert.ErrorIs(t, err, xstore.ErrKeyNotFound)
	})

	t.Run("delete missing is noop", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, k("kv:never-existed")))
	})
}

func testIncrement(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	k := keyspace(t)

	t.Run("creates and accumulates", func(t *testing.T) {
		v, err := s.Increment(ctx, k("cnt:a"), 1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		v, err = s.Increment(ctx, k("cnt:a"), 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(3), v)

		// 负增量递减
		v, err = s.Increment(ctx, k("cnt:a"), -1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("get returns numeric string", func(t *testing.T) {
		_, err := s.Increment(ctx, k("cnt:b"), 42, 0)
		require.NoError(t, err)
		got, err := s.Get(ctx, k("cnt:b"))
		require.NoError(t, err)
		assert.Equal(t, "42", got)
	})

	t.Run("numeric string becomes counter", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("cnt:c"), "10", 0))
		v, err := s.Increment(ctx, k("cnt:c"), 5, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(15), v)
	})

	t.Run("non-numeric string rejected", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("cnt:d"), "not-a-number", 0))
		_, err := s.Increment(ctx, k("cnt:d"), 1, 0)
		assert.ErrorIs(t, err, xstore.ErrWrongKind)
	})
}

func testSlidingWindow(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	k := keyspace(t)
	const window = 10 * time.Second

	t.Run("accumulates within window", func(t *testing.T) {
		n, err := s.SlidingWindowAdd(ctx, k("win:a"), base, window, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.SlidingWindowAdd(ctx, k("win:a"), base.Add(time.Second), window, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		// 一次写入多条
		n, err = s.SlidingWindowAdd(ctx, k("win:a"), base.Add(2*time.Second), window, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("window boundary is inclusive", func(t *testing.T) {
		n, err := s.SlidingWindowAdd(ctx, k("win:b"), base, window, 1)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		// 恰好在窗口边界上的旧条目仍计入（闭区间）
		n, err = s.SlidingWindowAdd(ctx, k("win:b"), base.Add(window), window, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		// 再过 1ms 后最旧条目滑出窗口
		n, err = s.SlidingWindowAdd(ctx, k("win:b"), base.Add(window+time.Millisecond), window, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("count ranges", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := s.SlidingWindowAdd(ctx, k("win:c"), base.Add(time.Duration(i)*time.Second), window, 1)
			require.NoError(t, err)
		}

		n, err := s.SlidingWindowCount(ctx, k("win:c"), base.Add(time.Second), base.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = s.SlidingWindowCount(ctx, k("win:c"), base.Add(5*time.Second), base.Add(6*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("count missing key is zero", func(t *testing.T) {
		n, err := s.SlidingWindowCount(ctx, k("win:missing"), base, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("add to string key rejected", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("win:d"), "plain", 0))
		_, err := s.SlidingWindowAdd(ctx, k("win:d"), base, window, 1)
		assert.ErrorIs(t, err, xstore.ErrWrongKind)
	})
}

func testTokenBucket(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	k := keyspace(t)

	t.Run("new bucket starts full", func(t *testing.T) {
		res, err := s.TokenBucketConsume(ctx, k("tb:a"), 10, 5, 1, base)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(9), res.Remaining)
		assert.Zero(t, res.RetryAfter)
	})

	t.Run("drain then deny with retry hint", func(t *testing.T) {
		res, err := s.TokenBucketConsume(ctx, k("tb:b"), 10, 5, 10, base)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, int64(0), res.Remaining)

		res, err = s.TokenBucketConsume(ctx, k("tb:b"), 10, 5, 1, base)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, int64(0), res.Remaining)
		// 1 个令牌 @ 5/s = 200ms
		assert.Equal(t, 200*time.Millisecond, res.RetryAfter)
	})

	t.Run("refills over elapsed time", func(t *testing.T) {
		res, err := s.TokenBucketConsume(ctx, k("tb:c"), 10, 5, 10, base)
		require.NoError(t, err)
		require.True(t, res.Allowed)

		// 1 秒后补充 5 个
		res, err = s.TokenBucketConsume(ctx, k("tb:c"), 10, 5, 5, base.Add(time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(0), res.Remaining)

		res, err = s.TokenBucketConsume(ctx, k("tb:c"), 10, 5, 1, base.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})

	t.Run("refill caps at capacity", func(t *testing.T) {
		res, err := s.TokenBucketConsume(ctx, k("tb:d"), 10, 5, 1, base)
		require.NoError(t, err)
		require.True(t, res.Allowed)

		// 一小时后不会超过容量
		res, err = s.TokenBucketConsume(ctx, k("tb:d"), 10, 5, 0, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(10), res.Remaining)
	})

	t.Run("probe does not consume or create", func(t *testing.T) {
		res, err := s.TokenBucketConsume(ctx, k("tb:e"), 10, 5, 0, base)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(10), res.Remaining)

		// 探测不落盘：key 仍不存在
		_, err = s.Get(ctx, k("tb:e"))
		assert.ErrorIs(t, err, xstore.ErrKeyNotFound)

		// 全容量消费仍然成功，证明探测未扣减
		res, err = s.TokenBucketConsume(ctx, k("tb:e"), 10, 5, 10, base)
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		// 消费已落盘：探测看到空桶
		res, err = s.TokenBucketConsume(ctx, k("tb:e"), 10, 5, 0, base)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Remaining)
	})

	t.Run("caller clock behind state", func(t *testing.T) {
		res, err := s.TokenBucketConsume(ctx, k("tb:f"), 10, 5, 10, base.Add(5*time.Second))
		require.NoError(t, err)
		require.True(t, res.Allowed)

		// 另一个副本的时钟落后：不补充也不报错
		res, err = s.TokenBucketConsume(ctx, k("tb:f"), 10, 5, 1, base)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})
}

func testLeakyBucket(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	k := keyspace(t)

	t.Run("new bucket starts empty", func(t *testing.T) {
		res, err := s.LeakyBucketConsume(ctx, k("lb:a"), 5, 1, 1, base)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(4), res.Remaining)
	})

	t.Run("overflow denied with retry hint", func(t *testing.T) {
		res, err := s.LeakyBucketConsume(ctx, k("lb:b"), 5, 1, 5, base)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, int64(0), res.Remaining)

		res, err = s.LeakyBucketConsume(ctx, k("lb:b"), 5, 1, 1, base)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		// 溢出 1 @ 1/s = 1s
		assert.Equal(t, time.Second, res.RetryAfter)
	})

	t.Run("leaks over elapsed time", func(t *testing.T) {
		res, err := s.LeakyBucketConsume(ctx, k("lb:c"), 5, 1, 5, base)
		require.NoError(t, err)
		require.True(t, res.Allowed)

		// 2 秒漏掉 2 个
		res, err = s.LeakyBucketConsume(ctx, k("lb:c"), 5, 1, 2, base.Add(2*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(0), res.Remaining)
	})

	t.Run("probe reports free space", func(t *testing.T) {
		res, err := s.LeakyBucketConsume(ctx, k("lb:d"), 5, 1, 0, base)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(5), res.Remaining)

		_, err = s.Get(ctx, k("lb:d"))
		assert.ErrorIs(t, err, xstore.ErrKeyNotFound)
	})
}

func testGuards(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	t.Run("nil context", func(t *testing.T) {
		_, err := s.Get(nil, "k") //nolint:staticcheck // 验证 nil ctx 防御
		assert.ErrorIs(t, err, xstore.ErrNilContext)
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Get(canceled, "k")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := s.Get(ctx, "")
		assert.ErrorIs(t, err, xstore.ErrInvalidKey)
		assert.ErrorIs(t, s.Set(ctx, "", "v", 0), xstore.ErrInvalidKey)
		_, err = s.Increment(ctx, "", 1, 0)
		assert.ErrorIs(t, err, xstore.ErrInvalidKey)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		assert.ErrorIs(t, s.Set(ctx, "k", "v", -time.Second), xstore.ErrInvalidArgument)

		_, err := s.Increment(ctx, "k", 1, -time.Second)
		assert.ErrorIs(t, err, xstore.ErrInvalidArgument)

		_, err = s.SlidingWindowAdd(ctx, "k", base, 0, 1)
		assert.ErrorIs(t, err, xstore.ErrInvalidArgument)

		_, err = s.SlidingWindowAdd(ctx, "k", base, time.Second, 0)
		assert.ErrorIs(t, err, xstore.ErrInvalidArgument)

		_, err = s.TokenBucketConsume(ctx, "k", 0, 1, 1, base)
		assert.ErrorIs(t, err, xstore.ErrInvalidArgument)

		_, err = s.TokenBucketConsume(ctx, "k", 10, 0, 1, base)
		assert.ErrorIs(t, err, xstore.ErrInvalidArgument)

		_, err = s.TokenBucketConsume(ctx, "k", 10, 1, -1, base)
		assert.ErrorIs(t, err, xstore.ErrInvalidArgument)

		_, err = s.LeakyBucketConsume(ctx, "k", 10, -1, 1, base)
		assert.ErrorIs(t, err, xstore.ErrInvalidArgument)
	})
}

func testClosed(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	require.NoError(t, s.Close(ctx))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, xstore.ErrStoreClosed)
	assert.ErrorIs(t, s.Set(ctx, "k", "v", 0), xstore.ErrStoreClosed)
	_, err = s.Increment(ctx, "k", 1, 0)
	assert.ErrorIs(t, err, xstore.ErrStoreClosed)
	_, err = s.TokenBucketConsume(ctx, "k", 10, 1, 1, base)
	assert.ErrorIs(t, err, xstore.ErrStoreClosed)

	// Close 幂等
	assert.NoError(t, s.Close(ctx))
}

func testLocker(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	k := keyspace(t)

	locker, ok := s.(xstore.Locker)
	if !ok {
		t.Skip("store does not implement xstore.Locker")
	}

	t.Run("lock unlock roundtrip", func(t *testing.T) {
		u, err := locker.Lock(ctx, k("lk:a"), 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, u)

		assert.NoError(t, u.Unlock(ctx))

		// 重复释放
		assert.ErrorIs(t, u.Unlock(ctx), xstore.ErrLockNotHeld)
	})

	t.Run("held lock blocks second acquirer", func(t *testing.T) {
		u, err := locker.Lock(ctx, k("lk:b"), 5*time.Second)
		require.NoError(t, err)

		shortCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(shortCtx, k("lk:b"), 5*time.Second)
		require.Error(t, err)

		require.NoError(t, u.Unlock(ctx))

		// 释放后可再次获取
		u2, err := locker.Lock(ctx, k("lk:b"), 5*time.Second)
		require.NoError(t, err)
		assert.NoError(t, u2.Unlock(ctx))
	})
}
