// Package intent 定义了分类结果的封闭类型集合，以及对模型输出的容错解析。
package intent

import (
	"strings"

	"StayRelay/internal/catalog"
)

// Category 是分类结果的封闭枚举。
type Category string

const (
	CategoryConversation        Category = "conversation"
	CategoryCatalogSearch       Category = "catalog_search"
	CategoryEntitySpecific      Category = "entity_specific"
	CategoryBookingConfirmation Category = "booking_confirmation"
)

// FallbackConfidence 是解析失败时置信度的上限。
const FallbackConfidence = 0.3

// Valid 判断是否属于已知分类。
func (c Category) Valid() bool {
	switch c {
	case CategoryConversation, CategoryCatalogSearch, CategoryEntitySpecific, CategoryBookingConfirmation:
		return true
	default:
		return false
	}
}

// Classification 是分类器输出的结构化结果。
type Classification struct {
	Category         Category              `json:"category"`
	Message          string                `json:"message"`
	TargetEntityID   *string               `json:"targetEntityId"`
	TargetEntityName *string               `json:"targetEntityName"`
	SearchParams     *catalog.SearchParams `json:"searchParams"`
	Confidence       float64               `json:"confidence"`
	RequiresRouting  bool                  `json:"requiresRouting"`
}

// Fallback 把无法解析的输出降级为对话类别，原文作为回复。
// 置信度不超过 FallbackConfidence，负值按 0 处理。
func Fallback(raw string, confidence float64) Classification {
	return Classification{
		Category:   CategoryConversation,
		Message:    strings.TrimSpace(raw),
		Confidence: max(0, min(confidence, FallbackConfidence)),
	}
}

// Unavailable 在分类器调用失败时使用，置信度为 0。
func Unavailable() Classification {
	return Classification{
		Category: CategoryConversation,
		Message:  "Sorry, I could not understand that request right now. Could you rephrase it?",
	}
}

// Demote 把分类结果降级为对话类别并清空路由与检索字段。
func (c Classification) Demote(message string) Classification {
	return Classification{
		Category:   CategoryConversation,
		Message:    message,
		Confidence: c.Confidence,
	}
}

// EntityID 返回目标酒店 ID，未设置时为空字符串。
func (c Classification) EntityID() string {
	if c.TargetEntityID == nil {
		return ""
	}
	return strings.TrimSpace(*c.TargetEntityID)
}

// EntityName 返回目标酒店名称，未设置时为空字符串。
func (c Classification) EntityName() string {
	if c.TargetEntityName == nil {
		return ""
	}
	return strings.TrimSpace(*c.TargetEntityName)
}

// StringPtr 返回非空字符串的指针，空白字符串返回 nil。
func StringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
