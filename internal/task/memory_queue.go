package task

import (
	"context"
	"sync"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/observability/metrics"
)

// MemoryQueue 使用 channel 模拟消息队列，适用于单进程部署与测试。
// Close 之后 Publish 返回错误，阻塞中的 Publish 也会立即返回。
type MemoryQueue struct {
	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Message, size), done: make(chan struct{})}
}

// Publish 将运行触发投递到队列。队列已满时阻塞，Close 或 ctx 结束会让它返回。
func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	select {
	case <-q.done:
		return errQueueClosed()
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed()
	case q.ch <- msg:
		metrics.SetQueueDepth("memory", len(q.ch))
		return nil
	}
}

func errQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
}

// Len 返回队列中等待处理的消息数。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Consume 启动指定数量的工作协程消费队列中的触发。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case msg := <-q.ch:
					metrics.SetQueueDepth("memory", len(q.ch))
					_ = handler(ctx, msg)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
