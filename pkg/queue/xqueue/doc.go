// Package xqueue 提供有界优先级队列，用于承接"排队而非直接拒绝"的请求。
//
// 队列始终先出优先级最高的未过期项，同优先级按入队先后（FIFO）。
// 容量满时 Enqueue 返回 false（预期内状况，不是错误）；带超时的项
// 在访问时惰性丢弃（过期项不会被主动清理，也不会被取出）。
//
// 快速开始：
//
//	q, err := xqueue.New[*Task](1000)
//	if err != nil { ... }
//
//	ok := q.Enqueue(xqueue.Item[*Task]{
//	    Priority: 5,
//	    Data:     task,
//	    Timeout:  30 * time.Second, // 排队超过 30s 即作废
//	})
//	if !ok {
//	    // 队列已满，按业务策略拒绝或降级
//	}
//
// 后台消费（同一实例同一时刻只有一个 handler 在执行）：
//
//	err = q.StartProcessing(func(ctx context.Context, item xqueue.Item[*Task]) error {
//	    return item.Data.Run(ctx)
//	})
//	defer q.StopProcessing() // 幂等，等待在途 handler 返回
//
// 跨项并发由调用方通过多个队列实例或外部扇出实现，本包不做。
package xqueue
