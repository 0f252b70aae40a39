package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"StayRelay/internal/booking"
	"StayRelay/internal/catalog"
	"StayRelay/internal/intent"
	"StayRelay/internal/stream"
)

// MetadataTargetEntityID 是入站消息 metadata 中携带已知目标酒店的键。
const MetadataTargetEntityID = "targetEntityId"

// TaskRequest 描述一次入站任务。
type TaskRequest struct {
	TaskID    string
	ContextID string
	Message   stream.Message
}

// NewTaskRequest 从入站消息构造请求，缺失的 taskId 与 contextId 由路由生成。
func NewTaskRequest(msg stream.Message) TaskRequest {
	req := TaskRequest{
		TaskID:    strings.TrimSpace(msg.TaskID),
		ContextID: strings.TrimSpace(msg.ContextID),
		Message:   msg,
	}
	return req.normalize()
}

func (r TaskRequest) normalize() TaskRequest {
	if r.TaskID == "" {
		r.TaskID = strings.TrimSpace(r.Message.TaskID)
	}
	if r.TaskID == "" {
		r.TaskID = uuid.NewString()
	}
	if r.ContextID == "" {
		r.ContextID = strings.TrimSpace(r.Message.ContextID)
	}
	if r.ContextID == "" {
		r.ContextID = uuid.NewString()
	}
	if r.Message.Role == "" {
		r.Message.Role = "user"
	}
	r.Message.TaskID = r.TaskID
	r.Message.ContextID = r.ContextID
	return r
}

// Text 返回用户原始输入。
func (r TaskRequest) Text() string {
	return strings.TrimSpace(r.Message.Text())
}

// knownTarget 返回入站 metadata 中的目标酒店 ID。
func (r TaskRequest) knownTarget() string {
	if r.Message.Metadata == nil {
		return ""
	}
	value, ok := r.Message.Metadata[MetadataTargetEntityID].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// ReplyMetadata 是终态回复的附加信息。
type ReplyMetadata struct {
	TotalResults *int `json:"totalResults,omitempty"`
}

// Reply 是 completed 事件的消息正文：分类字段加上检索、预订与支付结果。
type Reply struct {
	intent.Classification
	Metadata ReplyMetadata    `json:"metadata"`
	Hotels   []catalog.Hotel  `json:"hotels,omitempty"`
	Booking  *booking.Details `json:"booking,omitempty"`
	Payment  *booking.Quote   `json:"payment,omitempty"`
}

// Encode 序列化回复。
func (r *Reply) Encode() (string, error) {
	encoded, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Outcome 汇总一次执行的结果，供调用方记录日志或测试断言。
type Outcome struct {
	TaskID     string
	ContextID  string
	State      stream.State
	Dispatched bool
	Reply      *Reply
}

// failurePayload 是 failed 事件的消息正文。
type failurePayload struct {
	Category intent.Category `json:"category"`
	Message  string          `json:"message"`
	Error    failureDetail   `json:"error"`
}

type failureDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
