package llm

import "context"

// Purpose 区分一次分类调用希望模型产出的结构。
type Purpose string

const (
	// PurposeIntent 产出完整的意图分类结果。
	PurposeIntent Purpose = "intent"
	// PurposeEntityLookup 根据整段对话推断用户所指的酒店，输出 {"entityName": ...}。
	PurposeEntityLookup Purpose = "entity_lookup"
	// PurposeBookingDates 提取入住与退房日期，输出 {"checkin": ..., "checkout": ...}。
	PurposeBookingDates Purpose = "booking_dates"
)

// Request 描述发送给分类器的上下文。
type Request struct {
	Purpose Purpose
	// History 是会话记忆渲染出的文本。
	History string
	// Catalog 是当前可路由酒店的摘要。
	Catalog string
	// Query 是用户本轮输入。
	Query string
}

// Response 是分类器返回的原始文本，解析交由调用方完成。
type Response struct {
	Content string
}

// Client 定义了调用分类器的统一接口。任何实现（远程模型、本地脚本、规则引擎）
// 只要遵守各 Purpose 的输出约定即可替换。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许使用普通函数实现 Client。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client 接口。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
