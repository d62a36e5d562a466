package cycle

import (
	"context"
	"sync"

	xerrors "GhostSignal-Chain/internal/errors"
)

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")

// MemoryQueue 使用 channel 实现进程内队列。ch 不会被关闭，关闭信号通过 done 广播。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将智能体 id 投递到队列。队列已满时阻塞，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, agentID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- agentID:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列，ctx 结束或队列关闭后返回。
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
				case agentID := <-q.ch:
					_ = handler(ctx, agentID)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列，阻塞中的 Publish 立即返回。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
