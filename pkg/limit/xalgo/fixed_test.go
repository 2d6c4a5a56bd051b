package xalgo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/gatekit/pkg/limit/xalgo"
)

func TestFixedWindowConsume(t *testing.T) {
	algo, clk := newTestAlgo(t, xalgo.NameFixedWindow)
	ctx := context.Background()
	const limit = 3

	t.Run("counts within window", func(t *testing.T) {
		for i := 1; i <= limit; i++ {
			res, err := algo.Consume(ctx, "fw:a", 1, limit, time.Minute, xalgo.Options{})
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, int64(i), res.Current)
		}

		res, err := algo.Consume(ctx, "fw:a", 1, limit, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		// 拒绝也计数
		assert.Equal(t, int64(4), res.Current)
	})

	t.Run("resets exactly at boundary", func(t *testing.T) {
		// 推进到下一个窗口边界
		nowMS := clk.Now().UnixMilli()
		windowMS := time.Minute.Milliseconds()
		clk.Advance(time.Duration((nowMS/windowMS+1)*windowMS-nowMS) * time.Millisecond)

		res, err := algo.Consume(ctx, "fw:a", 1, limit, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(1), res.Current)
	})
}

func TestFixedWindowResetAt(t *testing.T) {
	algo, clk := newTestAlgo(t, xalgo.NameFixedWindow)
	ctx := context.Background()

	res, err := algo.Consume(ctx, "fw:b", 1, 10, time.Minute, xalgo.Options{})
	require.NoError(t, err)

	// ResetAt 恰好是下一个窗口边界
	nowMS := clk.Now().UnixMilli()
	windowMS := time.Minute.Milliseconds()
	wantReset := time.UnixMilli((nowMS/windowMS + 1) * windowMS)
	assert.Equal(t, wantReset, res.ResetAt)
}

func TestFixedWindowCheck(t *testing.T) {
	algo, _ := newTestAlgo(t, xalgo.NameFixedWindow)
	ctx := context.Background()

	t.Run("empty window allows", func(t *testing.T) {
		res, err := algo.Check(ctx, "fw:c", 2, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(0), res.Current)
		assert.Equal(t, int64(2), res.Remaining)
	})

	t.Run("check does not create counter", func(t *testing.T) {
		res, err := algo.Consume(ctx, "fw:c", 1, 2, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Current)
	})

	t.Run("reports denial at limit", func(t *testing.T) {
		_, err := algo.Consume(ctx, "fw:c", 1, 2, time.Minute, xalgo.Options{})
		require.NoError(t, err)

		res, err := algo.Check(ctx, "fw:c", 2, time.Minute, xalgo.Options{})
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})
}

func TestFixedWindowIsolatedWindows(t *testing.T) {
	algo, clk := newTestAlgo(t, xalgo.NameFixedWindow)
	ctx := context.Background()

	// 两个相邻窗口互不影响：边界跨越处总放行量可达 2×limit
	for i := 0; i < 2; i++ {
		res, err := algo.Consume(ctx, "fw:d", 1, 2, time.Second, xalgo.Options{})
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	clk.Advance(time.Second)
	for i := 0; i < 2; i++ {
		res, err := algo.Consume(ctx, "fw:d", 1, 2, time.Second, xalgo.Options{})
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}
