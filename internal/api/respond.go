package api

import (
	"encoding/json"
	"net/http"

	"StayRelay/internal/auth"
	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/registry"
	"StayRelay/internal/task"
)

// errorBody 是所有 JSON 错误响应的结构。
type errorBody struct {
	Error xerrors.Payload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: xerrors.Public(err)})
}

func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case auth.CodeUnauthenticated:
		return http.StatusUnauthorized
	case auth.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeNotFound, task.CodeTaskNotFound, registry.CodeAgentNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeStorageFailure, xerrors.CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
