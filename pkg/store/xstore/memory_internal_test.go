package xstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemorySweepEvictsExpired 验证后台清扫独立于读路径回收过期条目。
// 读路径的惰性过期会掩盖清扫效果，所以直接检查内部条目表。
func TestMemorySweepEvictsExpired(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s, err := NewMemory(WithClock(clock), WithSweepInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close(context.Background())) })

	ms := s.(*memoryStore)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "sweep:short", "v", time.Second))
	require.NoError(t, s.Set(ctx, "sweep:forever", "v", 0))

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	// 不触发任何读操作，等清扫循环自己回收
	assert.Eventually(t, func() bool {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		_, ok := ms.items["sweep:short"]
		return !ok
	}, time.Second, 10*time.Millisecond)

	ms.mu.Lock()
	_, ok := ms.items["sweep:forever"]
	ms.mu.Unlock()
	assert.True(t, ok, "key without ttl must survive sweep")
}

// TestMemoryCloseStopsSweep 验证 Close 后清扫 goroutine 退出。
func TestMemoryCloseStopsSweep(t *testing.T) {
	s, err := NewMemory(WithSweepInterval(time.Millisecond))
	require.NoError(t, err)

	ms := s.(*memoryStore)
	require.NoError(t, s.Close(context.Background()))

	// Close 内部已 wg.Wait()，此处只验证重复关闭无副作用
	assert.NoError(t, s.Close(context.Background()))
	assert.True(t, ms.closed.Load())
}
