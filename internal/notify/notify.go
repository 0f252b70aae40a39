// Package notify 向外部系统发布领域事件，例如预订报价与代理注册。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// TypeBookingQuoted 在预订报价生成后发布，供支付流程消费。
	TypeBookingQuoted = "booking.quoted"
	// TypeAgentRegistered 在动态注册代理成功后发布。
	TypeAgentRegistered = "agent.registered"
)

// Event 是发布到消息系统的领域事件。
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	TaskID     string          `json:"taskId,omitempty"`
	ContextID  string          `json:"contextId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent 序列化 payload 并生成事件 ID。
func NewEvent(eventType string, payload any) (Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("序列化事件失败: %w", err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    encoded,
	}, nil
}

// Handler 处理一条事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
