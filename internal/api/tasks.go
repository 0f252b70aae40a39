package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/stream"
	"StayRelay/internal/task"
	"StayRelay/pkg/logger"
)

// TaskListResponse 是 GET /api/v1/tasks 的响应。
type TaskListResponse struct {
	Tasks []*task.Task     `json:"tasks"`
	Stats task.TaskStats   `json:"stats"`
	Query task.ListOptions `json:"-"`
}

// CancelResponse 是取消请求的应答。取消目前只被记录，不会中断执行。
type CancelResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task store not configured"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	tasks, err := s.tasks.List(ctx, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(ctx, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, Stats: stats})
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task store not configured"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空"))
		return
	}
	record, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleCancelTask 确认收到取消请求并写入审计日志。
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空"))
		return
	}
	if s.tasks != nil {
		if _, err := s.tasks.Get(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
	}
	logger.Audit().Info("收到任务取消请求",
		slog.String("task_id", id),
		slog.String("remote_addr", r.RemoteAddr),
		slog.Bool("cancelled", false))
	writeJSON(w, http.StatusAccepted, CancelResponse{ID: id, Status: "acknowledged"})
}

func parseListOptions(r *http.Request) (task.ListOptions, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return task.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是整数")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return task.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("state"); raw != "" {
		var states []stream.State
		for _, part := range strings.Split(raw, ",") {
			state := stream.State(strings.TrimSpace(part))
			if !task.IsValidState(state) {
				return task.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(state))
			}
			states = append(states, state)
		}
		opts = append(opts, task.WithStates(states...))
	}
	if raw := query.Get("contextId"); raw != "" {
		opts = append(opts, task.WithContextID(raw))
	}
	if raw := query.Get("category"); raw != "" {
		opts = append(opts, task.WithCategory(raw))
	}
	if raw := query.Get("dispatched"); raw != "" {
		dispatched, err := strconv.ParseBool(raw)
		if err != nil {
			return task.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "dispatched 必须是布尔值")
		}
		opts = append(opts, task.WithDispatched(dispatched))
	}
	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return task.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "since 必须是 RFC3339 时间")
		}
		opts = append(opts, task.WithUpdatedSince(since))
	}
	if raw := query.Get("order"); strings.EqualFold(raw, "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return task.BuildListOptions(opts...), nil
}
