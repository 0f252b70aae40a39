package notify

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示发布器已关闭。
var ErrClosed = errors.New("notify: publisher closed")

// MemoryPublisher 使用 channel 在进程内传递事件。
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

// NewMemoryPublisher 创建内存发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 投递事件，缓冲区满时遵循 ctx 取消。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- event:
		return nil
	}
}

// Consume 启动指定数量的协程处理事件，直到 ctx 取消或发布器关闭。
func (p *MemoryPublisher) Consume(ctx context.Context, workerCount int, handler Handler) error {
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
				case event, ok := <-p.ch:
					if !ok {
						return
					}
					_ = handler(ctx, event)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭发布器，已缓冲的事件仍可被消费。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	return nil
}

var _ Publisher = (*MemoryPublisher)(nil)
