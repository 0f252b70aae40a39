// Package stream 定义了任务事件流的协议类型，以及 SSE 编解码与透传转发。
package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind 表示事件种类。
type Kind string

const (
	KindStatusUpdate Kind = "status-update"
	KindTaskCreated  Kind = "task-created"
)

// State 表示任务状态。
type State string

const (
	StateCreated   State = "created"
	StateWorking   State = "working"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal 判断状态是否为终态。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Part 是消息中的一个片段，目前只使用文本。
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Message 是一条用户或代理消息。
type Message struct {
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	MessageID string         `json:"messageId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TextMessage 构造只含一个文本片段的消息。
func TextMessage(role, text string) *Message {
	return &Message{Role: role, Parts: []Part{{Kind: "text", Text: text}}}
}

// Text 拼接消息中的全部文本片段。
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, part := range m.Parts {
		if part.Kind == "text" || part.Kind == "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Status 描述任务在某一时刻的状态。
type Status struct {
	State     State    `json:"state"`
	Message   *Message `json:"message,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Event 是事件流中的一条记录。
type Event struct {
	Kind      Kind           `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Status    Status         `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Raw 保存从下游解码时的原始 JSON，透传时原样写出。
	Raw json.RawMessage `json:"-"`
}

// NewStatusEvent 构造一条状态更新事件。
func NewStatusEvent(taskID, contextID string, state State, text string, final bool) Event {
	return Event{
		Kind:      KindStatusUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Status: Status{
			State:     state,
			Message:   TextMessage("agent", text),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
		Final: final,
	}
}

// Text 返回事件状态消息中的文本。
func (e Event) Text() string {
	return e.Status.Message.Text()
}

// Encode 返回事件的 JSON 表示，解码得到的事件返回原始字节。
func (e Event) Encode() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e)
}
