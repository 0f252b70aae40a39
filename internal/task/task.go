// Package task 保存网关任务的生命周期记录，供查询接口与统计使用。
package task

import (
	stdErrors "errors"

	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/stream"
)

// Task 描述一次入站请求对应的任务。
type Task struct {
	ID         string       `json:"id"`
	ContextID  string       `json:"contextId"`
	InputText  string       `json:"inputText"`
	State      stream.State `json:"state"`
	Category   string       `json:"category,omitempty"`
	Dispatched bool         `json:"dispatched"`
	TargetID   string       `json:"targetId,omitempty"`
	ErrorCode  string       `json:"errorCode,omitempty"`
	Reply      string       `json:"reply,omitempty"`
	CreatedAt  int64        `json:"createdAt"`
	UpdatedAt  int64        `json:"updatedAt"`
}

const (
	CodeTaskNotFound        xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict        xerrors.Code = "TASK_CONFLICT"
	CodeTaskExecutionFailed xerrors.Code = "TASK_EXECUTION_FAILED"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务 ID 重复，或终态任务被要求回退。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:     "task not found",
		Severity:    xerrors.SeverityInfo,
		Recoverable: true,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskExecutionFailed, xerrors.Attributes{
		Message:  "task execution failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsTaskError 判断错误是否为指定的任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeTaskNotFound:
		return stdErrors.Is(err, ErrTaskNotFound)
	case CodeTaskConflict:
		return stdErrors.Is(err, ErrTaskConflict)
	default:
		return xerrors.CodeOf(err) == target
	}
}

// IsValidState 检查状态是否为任务记录支持的取值。
func IsValidState(state stream.State) bool {
	switch state {
	case stream.StateCreated, stream.StateWorking, stream.StateCompleted, stream.StateFailed:
		return true
	default:
		return false
	}
}

func cloneTask(task *Task) *Task {
	clone := *task
	return &clone
}
