package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"StayRelay/internal/agent"
	"StayRelay/internal/dispatch"
	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/stream"
)

const streamBuffer = 16

// handleMessageStream 接收一条用户消息，以 text/event-stream 返回任务事件，
// 最后一条记录带有 final=true。
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "executor not configured"))
		return
	}

	var body dispatch.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if strings.TrimSpace(body.Message.Text()) == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "message must contain a text part"))
		return
	}

	req := agent.NewTaskRequest(body.Message)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := stream.NewChannelSink(streamBuffer)
	go func() {
		defer sink.Close()
		if _, err := s.executor.Execute(ctx, req, sink); err != nil {
			s.log.Warn("任务以失败结束",
				slog.String("task_id", req.TaskID),
				slog.String("context_id", req.ContextID),
				slog.Any("error", err))
		}
	}()

	writer := stream.NewWriter(w)
	for event := range sink.Events() {
		if err := writer.Emit(ctx, event); err != nil {
			s.log.Info("调用方断开连接", slog.String("task_id", req.TaskID), slog.Any("error", err))
			cancel()
			for range sink.Events() {
			}
			return
		}
	}
}
