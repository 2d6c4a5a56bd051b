package xqueue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/gatekit/pkg/queue/xqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock 是可手动推进的测试时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue(t *testing.T, capacity int, opts ...xqueue.Option) *xqueue.Queue[string] {
	t.Helper()
	q, err := xqueue.New[string](capacity, opts...)
	require.NoError(t, err)
	return q
}

func enqueue(t *testing.T, q *xqueue.Queue[string], id string, priority int) {
	t.Helper()
	require.True(t, q.Enqueue(xqueue.Item[string]{ID: id, Priority: priority, Data: id}))
}

func TestNewValidation(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		_, err := xqueue.New[string](capacity)
		assert.ErrorIs(t, err, xqueue.ErrInvalidCapacity)
	}
}

func TestDequeueByPriority(t *testing.T) {
	q := newQueue(t, 10)

	enqueue(t, q, "low", 1)
	enqueue(t, q, "high", 10)
	enqueue(t, q, "mid", 5)

	var order []int
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		order = append(order, item.Priority)
	}
	assert.Equal(t, []int{10, 5, 1}, order)
	assert.True(t, q.IsEmpty())
}

func TestFIFOWithinPriority(t *testing.T) {
	clk := newFakeClock()
	q := newQueue(t, 10, xqueue.WithClock(clk.Now))

	// 时钟冻结，EnqueuedAt 全部相同，入队顺序决定出队顺序
	enqueue(t, q, "first", 5)
	enqueue(t, q, "second", 5)
	enqueue(t, q, "third", 5)

	var order []string
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		order = append(order, item.ID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestExplicitEnqueuedAtOrdering(t *testing.T) {
	clk := newFakeClock()
	q := newQueue(t, 10, xqueue.WithClock(clk.Now))
	base := clk.Now()

	// 调用方自带 EnqueuedAt：时间更早的先出，与插入顺序无关
	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "late", Priority: 5, EnqueuedAt: base.Add(time.Second)}))
	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "early", Priority: 5, EnqueuedAt: base}))

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "early", item.ID)
}

func TestBoundedCapacity(t *testing.T) {
	q := newQueue(t, 2)

	assert.True(t, q.Enqueue(xqueue.Item[string]{ID: "a", Priority: 1}))
	assert.True(t, q.Enqueue(xqueue.Item[string]{ID: "b", Priority: 2}))
	assert.False(t, q.Enqueue(xqueue.Item[string]{ID: "c", Priority: 3}), "enqueue beyond capacity must be rejected")

	assert.Equal(t, 2, q.Size())
	assert.True(t, q.IsFull())

	_, ok := q.Dequeue()
	require.True(t, ok)
	assert.False(t, q.IsFull())
	assert.True(t, q.Enqueue(xqueue.Item[string]{ID: "c", Priority: 3}))
}

func TestExpiredItemNotReturned(t *testing.T) {
	clk := newFakeClock()
	q := newQueue(t, 10, xqueue.WithClock(clk.Now))

	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "stale", Priority: 1, Timeout: time.Millisecond}))
	clk.Advance(10 * time.Millisecond)

	_, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Size(), "expired item is discarded on access")
}

func TestExpiredHighPrioritySkipped(t *testing.T) {
	clk := newFakeClock()
	q := newQueue(t, 10, xqueue.WithClock(clk.Now))

	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "urgent", Priority: 10, Timeout: time.Millisecond}))
	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "normal", Priority: 1}))
	clk.Advance(10 * time.Millisecond)

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "normal", item.ID)
}

func TestZeroTimeoutNeverExpires(t *testing.T) {
	clk := newFakeClock()
	q := newQueue(t, 10, xqueue.WithClock(clk.Now))

	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "eternal", Priority: 1}))
	clk.Advance(1000 * time.Hour)

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "eternal", item.ID)
}

func TestAutoGeneratedID(t *testing.T) {
	q := newQueue(t, 10)

	require.True(t, q.Enqueue(xqueue.Item[string]{Priority: 1, Data: "payload"}))

	item, ok := q.PeekNext()
	require.True(t, ok)
	assert.NotEmpty(t, item.ID)
}

func TestDuplicateIDRejected(t *testing.T) {
	q := newQueue(t, 10, xqueue.WithLogger(discardLogger()))

	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "dup", Priority: 1}))
	assert.False(t, q.Enqueue(xqueue.Item[string]{ID: "dup", Priority: 2}))
	assert.Equal(t, 1, q.Size())
}

func TestPeek(t *testing.T) {
	clk := newFakeClock()
	q := newQueue(t, 10, xqueue.WithClock(clk.Now))

	enqueue(t, q, "a", 1)
	require.True(t, q.Enqueue(xqueue.Item[string]{ID: "b", Priority: 2, Timeout: time.Millisecond}))

	t.Run("live item", func(t *testing.T) {
		item, ok := q.Peek("a")
		require.True(t, ok)
		assert.Equal(t, "a", item.ID)
		assert.Equal(t, 2, q.Size(), "peek must not mutate")
	})

	t.Run("missing item", func(t *testing.T) {
		_, ok := q.Peek("nope")
		assert.False(t, ok)
	})

	t.Run("expired item treated as absent", func(t *testing.T) {
		clk.Advance(10 * time.Millisecond)
		_, ok := q.Peek("b")
		assert.False(t, ok)
		assert.Equal(t, 2, q.Size(), "lazy expiry: peek does not remove")
	})
}

func TestPeekNext(t *testing.T) {
	clk := newFakeClock()
	q := newQueue(t, 10, xqueue.WithClock(clk.Now))

	t.Run("empty queue", func(t *testing.T) {
		_, ok := q.PeekNext()
		assert.False(t, ok)
	})

	enqueue(t, q, "low", 1)
	enqueue(t, q, "high", 10)

	t.Run("highest priority without removal", func(t *testing.T) {
		item, ok := q.PeekNext()
		require.True(t, ok)
		assert.Equal(t, "high", item.ID)
		assert.Equal(t, 2, q.Size())
	})

	t.Run("expired head skipped but kept", func(t *testing.T) {
		require.True(t, q.Enqueue(xqueue.Item[string]{ID: "urgent", Priority: 99, Timeout: time.Millisecond}))
		clk.Advance(10 * time.Millisecond)

		item, ok := q.PeekNext()
		require.True(t, ok)
		assert.Equal(t, "high", item.ID)
		assert.Equal(t, 3, q.Size(), "peekNext must not prune")
	})
}

func TestRemove(t *testing.T) {
	q := newQueue(t, 10)

	enqueue(t, q, "a", 1)
	enqueue(t, q, "b", 5)
	enqueue(t, q, "c", 10)

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"), "second remove of same id")
	assert.False(t, q.Remove("nope"))

	var order []string
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		order = append(order, item.ID)
	}
	assert.Equal(t, []string{"c", "a"}, order)
}

func TestClear(t *testing.T) {
	q := newQueue(t, 10)

	enqueue(t, q, "a", 1)
	enqueue(t, q, "b", 2)
	q.Clear()

	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Size())
	_, ok := q.Peek("a")
	assert.False(t, ok)

	// 清空后可以继续使用
	enqueue(t, q, "a", 1)
	assert.Equal(t, 1, q.Size())
}

func TestStats(t *testing.T) {
	q := newQueue(t, 5)

	enqueue(t, q, "a", 1)
	enqueue(t, q, "b", 1)
	enqueue(t, q, "c", 5)

	stats := q.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 5, stats.Capacity)
	assert.False(t, stats.Processing)
	assert.Equal(t, map[int]int{1: 2, 5: 1}, stats.PriorityCounts)
}

// =============================================================================
// 基准
// =============================================================================

func BenchmarkEnqueueDequeue(b *testing.B) {
	q, err := xqueue.New[int](1024)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if !q.Enqueue(xqueue.Item[int]{ID: "bench", Priority: i & 7, Data: i}) {
			b.Fatal("enqueue rejected")
		}
		if _, ok := q.Dequeue(); !ok {
			b.Fatal("dequeue returned empty")
		}
	}
}

func BenchmarkEnqueueAutoID(b *testing.B) {
	q, err := xqueue.New[int](1024)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if !q.Enqueue(xqueue.Item[int]{Priority: i & 7, Data: i}) {
			b.Fatal("enqueue rejected")
		}
		if _, ok := q.Dequeue(); !ok {
			b.Fatal("dequeue returned empty")
		}
	}
}
