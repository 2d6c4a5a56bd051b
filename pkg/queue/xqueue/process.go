package xqueue

import (
	"context"
	"log/slog"
	"time"
)

// Handler 消费单个排队项。ctx 在 StopProcessing 时被取消，
// 长耗时 handler 应当观察它以便尽快退让。
type Handler[T any] func(ctx context.Context, item Item[T]) error

// StartProcessing 启动后台消费循环：反复取出下一项并调用 handler。
//
// 同一队列实例同一时刻只有一个 handler 在执行，严格一项接一项。
// handler 返回错误或 panic 只影响当前项（记日志后继续），不会中断循环。
// 循环在入队信号或轮询间隔上醒来，直到 StopProcessing。
// 已有循环在运行时返回 ErrAlreadyProcessing。
func (q *Queue[T]) StartProcessing(handler Handler[T]) error {
	if handler == nil {
		return ErrNilHandler
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing {
		return ErrAlreadyProcessing
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.processing = true
	q.cancel = cancel
	q.done = make(chan struct{})

	go q.drain(ctx, handler, q.done)
	return nil
}

// StopProcessing 停止消费循环并等待在途 handler 返回。幂等：
// 重复调用与未启动时调用都直接返回。
func (q *Queue[T]) StopProcessing() {
	q.mu.Lock()
	if !q.processing {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()

	cancel()
	<-done
}

// drain 是消费循环本体。独占一个 goroutine，退出时复位 processing 标记。
func (q *Queue[T]) drain(ctx context.Context, handler Handler[T], done chan struct{}) {
	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(q.opts.pollInterval)
	defer timer.Stop()

	for {
		// 先清空当前可取的项
		for ctx.Err() == nil {
			item, ok := q.Dequeue()
			if !ok {
				break
			}
			q.invoke(ctx, handler, item)
		}
		if ctx.Err() != nil {
			return
		}

		// 等待新项、轮询到期或停止。轮询兜底保证即使唤醒信号
		// 被合并丢失也能在有界延迟内恢复消费。
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.opts.pollInterval)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// invoke 执行单个 handler 调用，错误与 panic 都被限制在本项内。
func (q *Queue[T]) invoke(ctx context.Context, handler Handler[T], item Item[T]) {
	defer func() {
		if r := recover(); r != nil {
			q.opts.logger.Error("queue handler panicked",
				slog.String("item_id", item.ID),
				slog.Int("priority", item.Priority),
				slog.Any("panic", r),
			)
		}
	}()

	if err := handler(ctx, item); err != nil {
		q.opts.logger.Warn("queue handler failed",
			slog.String("item_id", item.ID),
			slog.Int("priority", item.Priority),
			slog.Any("error", err),
		)
	}
}
