package xstore

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"sync"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Lua 脚本嵌入
// =============================================================================

var (
	//go:embed lua/increment.lua
	incrementLuaSource string

	//go:embed lua/sliding_add.lua
	slidingAddLuaSource string

	//go:embed lua/token_bucket.lua
	tokenBucketLuaSource string

	//go:embed lua/leaky_bucket.lua
	leakyBucketLuaSource string
)

// =============================================================================
// 脚本管理器 - 单例模式确保脚本只创建一次
// =============================================================================

// scripts 持有所有 Redis 脚本实例
type scripts struct {
	increment   *redis.Script
	slidingAdd  *redis.Script
	tokenBucket *redis.Script
	leakyBucket *redis.Script
}

var (
	globalScripts     *scripts
	globalScriptsOnce sync.Once
)

// getScripts 获取脚本实例（线程安全的单例）
func getScripts() *scripts {
	globalScriptsOnce.Do(func() {
		globalScripts = &scripts{
			increment:   redis.NewScript(incrementLuaSource),
			slidingAdd:  redis.NewScript(slidingAddLuaSource),
			tokenBucket: redis.NewScript(tokenBucketLuaSource),
			leakyBucket: redis.NewScript(leakyBucketLuaSource),
		}
	})
	return globalScripts
}

// =============================================================================
// 脚本预热
// =============================================================================

// WarmupScripts 预热脚本，将脚本加载到 Redis 缓存中。
//
// 建议在应用启动时调用：一次性消除首次请求的脚本编译开销，
// 同时可以提前发现不支持 EVAL 的 Redis 代理。
// 不调用也能正常工作（go-redis 会自动处理 NOSCRIPT 回退）。
func WarmupScripts(ctx context.Context, client redis.UniversalClient) error {
	if ctx == nil {
		return ErrNilContext
	}
	if client == nil {
		return ErrNilClient
	}

	s := getScripts()
	for name, script := range map[string]*redis.Script{
		"increment":    s.increment,
		"sliding_add":  s.slidingAdd,
		"token_bucket": s.tokenBucket,
		"leaky_bucket": s.leakyBucket,
	} {
		if err := script.Load(ctx, client).Err(); err != nil {
			return fmt.Errorf("load %s script: %w", name, err)
		}
	}
	return nil
}

// =============================================================================
// 脚本返回值转换
// =============================================================================

// convertScriptResult 将 Lua 脚本返回值安全转换为 []int64。
// Redis 返回数组时 go-redis 解析为 []any，逐元素校验避免非预期类型 panic。
func convertScriptResult(val any) ([]int64, error) {
	arr, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", errUnexpectedScriptResult, val)
	}

	result := make([]int64, len(arr))
	for i, v := range arr {
		switch n := v.(type) {
		case int64:
			result[i] = n
		case int:
			result[i] = int64(n)
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%w: element %d is non-integer float64 %g", errUnexpectedScriptResult, i, n)
			}
			result[i] = int64(n)
		default:
			return nil, fmt.Errorf("%w: element %d is %T, expected number", errUnexpectedScriptResult, i, v)
		}
	}
	return result, nil
}

// validateScriptResult 校验 Lua 脚本返回值长度
func validateScriptResult(result []int64, minLen int) error {
	if len(result) < minLen {
		return fmt.Errorf("%w: got %d elements, want >= %d", errUnexpectedScriptResult, len(result), minLen)
	}
	return nil
}
