package xqueue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Item 是一个排队项。
type Item[T any] struct {
	// ID 唯一标识，空值由队列自动生成（base36 的 sonyflake ID）。
	ID string

	// Priority 优先级，数值越大越先被取出。
	Priority int

	// Data 业务载荷。
	Data T

	// EnqueuedAt 入队时刻，零值由队列按自身时钟填充。
	EnqueuedAt time.Time

	// Timeout 排队超时。入队超过该时长后项作废，访问时被惰性丢弃。
	// 0 或负值表示永不过期。
	Timeout time.Duration
}

// Stats 是队列的瞬时统计。
type Stats struct {
	// Size 当前项数（含尚未被惰性丢弃的过期项）。
	Size int

	// Capacity 队列容量。
	Capacity int

	// Processing 消费循环是否在运行。
	Processing bool

	// PriorityCounts 各优先级的项数直方图。
	PriorityCounts map[int]int
}

// Queue 是有界优先级队列，所有方法并发安全。
type Queue[T any] struct {
	capacity int
	opts     *options

	mu    sync.Mutex
	items itemHeap[T]
	index map[string]*entry[T]
	seq   uint64

	// wake 在入队时发信号，唤醒消费循环（缓冲 1，信号合并）。
	wake chan struct{}

	processing bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// New 创建容量为 capacity 的队列。
func New[T any](capacity int, opts ...Option) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Queue[T]{
		capacity: capacity,
		opts:     newOptions(opts),
		index:    make(map[string]*entry[T]),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Enqueue 入队。队列已满返回 false——这是预期内的背压信号，不是错误。
//
// item.ID 为空时自动生成；ID 与已有项重复时入队被拒绝（返回 false），
// 否则按 ID 的删除与查询会产生歧义。
func (q *Queue[T]) Enqueue(item Item[T]) bool {
	if item.ID == "" {
		id, err := q.opts.idGenerator(context.Background())
		if err != nil {
			q.opts.logger.Warn("queue item id generation failed",
				slog.Any("error", err),
			)
			return false
		}
		item.ID = id
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return false
	}
	if _, exists := q.index[item.ID]; exists {
		q.opts.logger.Warn("duplicate queue item id rejected",
			slog.String("item_id", item.ID),
		)
		return false
	}

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.opts.clock()
	}

	e := &entry[T]{item: item, seq: q.seq}
	q.seq++
	heap.Push(&q.items, e)
	q.index[item.ID] = e

	// 通知消费循环有新项，信号已挂起时无需重复
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Dequeue 取出优先级最高的未过期项。取出路径上遇到的过期项被惰性丢弃。
// 丢弃后队列为空时返回零值与 false。
func (q *Queue[T]) Dequeue() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		e := q.items[0]
		heap.Pop(&q.items)
		delete(q.index, e.item.ID)
		if q.expired(e) {
			continue
		}
		return e.item, true
	}
	var zero Item[T]
	return zero, false
}

// Peek 按 ID 查看项，不改变队列。已过期的项视同不存在（但不被移除）。
func (q *Queue[T]) Peek(id string) (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[id]
	if !ok || q.expired(e) {
		var zero Item[T]
		return zero, false
	}
	return e.item, true
}

// PeekNext 查看下一个会被 Dequeue 取出的项，不改变队列。
// 过期项被跳过但不被移除。
func (q *Queue[T]) PeekNext() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *entry[T]
	for _, e := range q.items {
		if q.expired(e) {
			continue
		}
		if best == nil || entryLess(e, best) {
			best = e
		}
	}
	if best == nil {
		var zero Item[T]
		return zero, false
	}
	return best.item, true
}

// Remove 按 ID 删除项，存在（无论是否过期）则返回 true。
func (q *Queue[T]) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, e.pos)
	delete(q.index, id)
	return true
}

// Clear 清空队列。
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		q.items[i] = nil
	}
	q.items = q.items[:0]
	clear(q.index)
}

// Size 返回当前项数。惰性过期意味着已过期但未被访问到的项仍计数。
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty 队列是否为空。
func (q *Queue[T]) IsEmpty() bool { return q.Size() == 0 }

// IsFull 队列是否已满。
func (q *Queue[T]) IsFull() bool { return q.Size() >= q.capacity }

// Stats 返回瞬时统计信息。
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[int]int, 8)
	for _, e := range q.items {
		counts[e.item.Priority]++
	}
	return Stats{
		Size:           len(q.items),
		Capacity:       q.capacity,
		Processing:     q.processing,
		PriorityCounts: counts,
	}
}

// expired 判定项是否已过期，调用方持有 q.mu。
func (q *Queue[T]) expired(e *entry[T]) bool {
	if e.item.Timeout <= 0 {
		return false
	}
	return q.opts.clock().Sub(e.item.EnqueuedAt) > e.item.Timeout
}
