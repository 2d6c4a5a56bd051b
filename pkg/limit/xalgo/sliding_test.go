package xalgo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/gatekit/pkg/limit/xalgo"
)

func TestSlidingWindowConsume(t *testing.T) {
	algo, clk := newTestAlgo(t, xalgo.NameSlidingWindow)
	ctx := context.Background()
	const limit = 3

	t.Run("allows up to limit", func(t *testing.T) {
		for i := 1; i <= limit; i++ {
			res, err := algo.Consume(ctx, "sw:a", 1, limit, time.Minute, xalgo.Options{})
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, int64(i), res.Current)
			assert.Equal(t, int64(limit-i), res.Remaining)
		}
	})

	t.Run("denied consume still recorded", func(t *testing.T) {
		res, err := algo.Consume(ctx, "sw:a", 1, limit, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		// 第 4 个请求被拒但计入
		assert.Equal(t, int64(4), res.Current)
		assert.Equal(t, int64(0), res.Remaining)
	})

	t.Run("window slides", func(t *testing.T) {
		clk.Advance(time.Minute + time.Millisecond)
		res, err := algo.Consume(ctx, "sw:a", 1, limit, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(1), res.Current)
	})
}

func TestSlidingWindowPartialSlide(t *testing.T) {
	algo, clk := newTestAlgo(t, xalgo.NameSlidingWindow)
	ctx := context.Background()

	// t0 写 2 条，t0+30s 写 1 条
	for i := 0; i < 2; i++ {
		_, err := algo.Consume(ctx, "sw:b", 1, 3, time.Minute, xalgo.Options{})
		require.NoError(t, err)
	}
	clk.Advance(30 * time.Second)
	_, err := algo.Consume(ctx, "sw:b", 1, 3, time.Minute, xalgo.Options{})
	require.NoError(t, err)

	// t0+61s：t0 的 2 条滑出，只剩 t0+30s 的 1 条
	clk.Advance(31 * time.Second)
	res, err := algo.Check(ctx, "sw:b", 3, time.Minute, xalgo.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Current)
	assert.Equal(t, int64(2), res.Remaining)
}

func TestSlidingWindowCheck(t *testing.T) {
	algo, _ := newTestAlgo(t, xalgo.NameSlidingWindow)
	ctx := context.Background()

	t.Run("check does not mutate", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			res, err := algo.Check(ctx, "sw:c", 2, time.Minute, xalgo.Options{})
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, int64(0), res.Current)
		}
	})

	t.Run("check reports denial at limit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := algo.Consume(ctx, "sw:c", 1, 2, time.Minute, xalgo.Options{})
			require.NoError(t, err)
		}
		res, err := algo.Check(ctx, "sw:c", 2, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, int64(0), res.Remaining)
	})
}

func TestSlidingWindowBurst(t *testing.T) {
	algo, _ := newTestAlgo(t, xalgo.NameSlidingWindow)
	ctx := context.Background()

	// Burst 覆盖有效限额
	for i := 1; i <= 5; i++ {
		res, err := algo.Consume(ctx, "sw:d", 1, 2, time.Minute, xalgo.Options{Burst: 5})
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d within burst", i)
		assert.Equal(t, int64(5), res.Limit)
	}

	res, err := algo.Consume(ctx, "sw:d", 1, 2, time.Minute, xalgo.Options{Burst: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestSlidingWindowCost(t *testing.T) {
	algo, _ := newTestAlgo(t, xalgo.NameSlidingWindow)
	ctx := context.Background()

	res, err := algo.Consume(ctx, "sw:e", 4, 10, time.Minute, xalgo.Options{})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(4), res.Current)
	assert.Equal(t, int64(6), res.Remaining)

	// cost 超过剩余时拒绝
	res, err = algo.Consume(ctx, "sw:e", 7, 10, time.Minute, xalgo.Options{})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(11), res.Current)
}
