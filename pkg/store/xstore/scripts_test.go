package xstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetScripts(t *testing.T) {
	scripts := getScripts()
	require.NotNil(t, scripts)

	// 验证所有脚本都已初始化
	assert.NotNil(t, scripts.increment)
	assert.NotNil(t, scripts.slidingAdd)
	assert.NotNil(t, scripts.tokenBucket)
	assert.NotNil(t, scripts.leakyBucket)

	// 多次调用应返回同一实例（单例模式）
	scripts2 := getScripts()
	assert.Same(t, scripts, scripts2)
}

func TestWarmupScripts(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()

	t.Run("nil context returns error", func(t *testing.T) {
		err := WarmupScripts(nil, client) //nolint:staticcheck // 验证 nil ctx 防御
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("nil client returns error", func(t *testing.T) {
		err := WarmupScripts(ctx, nil)
		assert.ErrorIs(t, err, ErrNilClient)
	})

	t.Run("successful warmup", func(t *testing.T) {
		err := WarmupScripts(ctx, client)
		assert.NoError(t, err)
	})

	t.Run("multiple warmups succeed", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			err := WarmupScripts(ctx, client)
			assert.NoError(t, err)
		}
	})
}

func TestLuaScripts_Embedded(t *testing.T) {
	// 验证 Lua 脚本已正确嵌入
	assert.NotEmpty(t, incrementLuaSource)
	assert.NotEmpty(t, slidingAddLuaSource)
	assert.NotEmpty(t, tokenBucketLuaSource)
	assert.NotEmpty(t, leakyBucketLuaSource)

	// 验证脚本包含预期的内容
	assert.Contains(t, incrementLuaSource, "INCRBY")
	assert.Contains(t, slidingAddLuaSource, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingAddLuaSource, "ZCOUNT")
	assert.Contains(t, tokenBucketLuaSource, "HMGET")
	assert.Contains(t, leakyBucketLuaSource, "HSET")
}

func TestConvertScriptResult(t *testing.T) {
	t.Run("int64 array", func(t *testing.T) {
		got, err := convertScriptResult([]any{int64(1), int64(9), int64(0)})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 9, 0}, got)
	})

	t.Run("mixed numeric types", func(t *testing.T) {
		got, err := convertScriptResult([]any{int(2), int64(3), float64(4)})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 4}, got)
	})

	t.Run("not an array", func(t *testing.T) {
		_, err := convertScriptResult("oops")
		assert.ErrorIs(t, err, errUnexpectedScriptResult)
	})

	t.Run("fractional float rejected", func(t *testing.T) {
		_, err := convertScriptResult([]any{1.5})
		assert.ErrorIs(t, err, errUnexpectedScriptResult)
	})

	t.Run("non-numeric element rejected", func(t *testing.T) {
		_, err := convertScriptResult([]any{int64(1), "two"})
		assert.ErrorIs(t, err, errUnexpectedScriptResult)
	})
}

func TestValidateScriptResult(t *testing.T) {
	assert.NoError(t, validateScriptResult([]int64{1, 2, 3}, 3))
	assert.NoError(t, validateScriptResult([]int64{1, 2, 3}, 2))
	assert.ErrorIs(t, validateScriptResult([]int64{1}, 3), errUnexpectedScriptResult)
	assert.ErrorIs(t, validateScriptResult(nil, 1), errUnexpectedScriptResult)
}
