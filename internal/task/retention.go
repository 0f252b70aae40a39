package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"StayRelay/pkg/logger"
)

// Pruner 由支持按时间清理终态任务的存储实现。内存存储依靠容量淘汰，不实现该接口。
type Pruner interface {
	Prune(ctx context.Context, before int64) (int64, error)
}

// Retention 按 cron 表达式定期清理超过 maxAge 的终态任务。
type Retention struct {
	pruner Pruner
	maxAge time.Duration
	cron   *cron.Cron
	now    func() time.Time
	log    *slog.Logger
}

// NewRetention 校验调度表达式并注册清理任务，调用 Start 后生效。
func NewRetention(pruner Pruner, schedule string, maxAge time.Duration) (*Retention, error) {
	if pruner == nil {
		return nil, fmt.Errorf("retention requires a pruner")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive")
	}
	r := &Retention{
		pruner: pruner,
		maxAge: maxAge,
		cron:   cron.New(),
		now:    time.Now,
		log:    logger.Named("task.retention"),
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start 启动调度，ctx 取消时停止并等待正在执行的清理结束。
func (r *Retention) Start(ctx context.Context) {
	r.cron.Start()
	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
}

// RunOnce 立即执行一次清理。
func (r *Retention) RunOnce(ctx context.Context) int64 {
	cutoff := r.now().Add(-r.maxAge)
	removed, err := r.pruner.Prune(ctx, cutoff.UnixMilli())
	if err != nil {
		r.log.Warn("清理过期任务失败", slog.Any("error", err))
		return 0
	}
	if removed > 0 {
		r.log.Info("已清理过期任务", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	}
	return removed
}
