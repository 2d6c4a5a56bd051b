package xqueue

// entry 是队列内部的持有结构，pos 跟踪堆下标以支持按 ID 删除。
type entry[T any] struct {
	item Item[T]
	seq  uint64
	pos  int
}

// entryLess 定义出队顺序：优先级高者先出，同优先级按 EnqueuedAt 先后，
// 时间也相同时按入队序号，保证严格的 FIFO。
func entryLess[T any](a, b *entry[T]) bool {
	if a.item.Priority != b.item.Priority {
		return a.item.Priority > b.item.Priority
	}
	if !a.item.EnqueuedAt.Equal(b.item.EnqueuedAt) {
		return a.item.EnqueuedAt.Before(b.item.EnqueuedAt)
	}
	return a.seq < b.seq
}

// itemHeap 实现 container/heap.Interface。
type itemHeap[T any] []*entry[T]

func (h itemHeap[T]) Len() int           { return len(h) }
func (h itemHeap[T]) Less(i, j int) bool { return entryLess(h[i], h[j]) }

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *itemHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // 释放引用，让 GC 回收
	e.pos = -1
	*h = old[:n-1]
	return e
}
