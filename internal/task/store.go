package task

import (
	"context"

	"StayRelay/internal/stream"
)

// Store 抽象了任务记录的保存与查询。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Update 在锁内对任务执行 mutate，返回更新后的副本。
	Update(ctx context.Context, id string, mutate func(*Task)) (*Task, error)
	// Transition 推进任务状态，终态之后的迁移返回 ErrTaskConflict。
	Transition(ctx context.Context, id string, state stream.State, reply string) (*Task, error)
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
