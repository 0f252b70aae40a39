package stream

import (
	"context"
	"sync"
)

// Guard 保证一条流中最多写出一个 final 事件，之后的事件全部丢弃。
type Guard struct {
	mu      sync.Mutex
	next    Sink
	final   bool
	emitted int
	dropped int
}

// NewGuard 包装下游 Sink。
func NewGuard(next Sink) *Guard {
	return &Guard{next: next}
}

// Emit 转发事件。final 事件之后的写入被丢弃并返回 nil。
func (g *Guard) Emit(ctx context.Context, event Event) error {
	g.mu.Lock()
	if g.final {
		g.dropped++
		g.mu.Unlock()
		return nil
	}
	if event.Final {
		g.final = true
	}
	g.emitted++
	g.mu.Unlock()

	return g.next.Emit(ctx, event)
}

// Finalized 返回是否已经写出 final 事件。
func (g *Guard) Finalized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.final
}

// Emitted 返回成功交给下游的事件数量。
func (g *Guard) Emitted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emitted
}

// Dropped 返回被丢弃的事件数量。
func (g *Guard) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
