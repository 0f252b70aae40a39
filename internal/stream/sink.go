package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed 表示向已关闭的通道写入事件。
var ErrSinkClosed = errors.New("stream: sink closed")

// Sink 接收任务事件。
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc 允许使用普通函数实现 Sink。
type SinkFunc func(ctx context.Context, event Event) error

// Emit 实现 Sink 接口。
func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// ChannelSink 把事件写入有类型的通道，Close 后消费方通过通道关闭得知流结束。
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewChannelSink 创建带缓冲的通道 Sink。
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events 返回只读事件通道。
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Emit 写入事件，消费方阻塞时遵循 ctx 取消。
func (s *ChannelSink) Emit(ctx context.Context, event Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭通道，可重复调用。
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Recorder 在内存中记录全部事件。
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit 实现 Sink 接口。
func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Tee 把事件依次写入多个 Sink，任一失败即返回。
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, event Event) error {
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Emit(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
}
