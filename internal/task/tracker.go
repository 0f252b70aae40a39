package task

import (
	"context"
	"log/slog"

	"StayRelay/internal/stream"
	"StayRelay/pkg/logger"
)

// Tracker 是一个 stream.Sink，把写往调用方的事件同步到任务记录。
// 下游代理转发来的事件同样推进本地任务状态；记录失败只写日志，不影响事件流。
type Tracker struct {
	store  Store
	taskID string
	next   stream.Sink
	log    *slog.Logger
}

// NewTracker 包装 next，事件先交给 next，再更新任务记录。
func NewTracker(store Store, taskID string, next stream.Sink) *Tracker {
	return &Tracker{
		store:  store,
		taskID: taskID,
		next:   next,
		log:    logger.Named("task").With(slog.String("task_id", taskID)),
	}
}

// Emit 实现 stream.Sink 接口。
func (t *Tracker) Emit(ctx context.Context, event stream.Event) error {
	if err := t.next.Emit(ctx, event); err != nil {
		return err
	}
	if t.store == nil {
		return nil
	}

	state := event.Status.State
	if event.Final && !state.Terminal() {
		state = stream.StateCompleted
	}
	if !IsValidState(state) {
		return nil
	}
	reply := ""
	if state.Terminal() {
		reply = event.Text()
	}
	// 使用独立 context：调用方断开后终态仍需落到记录上。
	if _, err := t.store.Transition(context.WithoutCancel(ctx), t.taskID, state, reply); err != nil {
		if !IsTaskError(err, CodeTaskConflict) {
			t.log.Warn("更新任务状态失败", slog.String("state", string(state)), slog.Any("error", err))
		}
	}
	return nil
}
