package llm

import (
	"fmt"
	"strings"
)

// SystemPrompt 返回不同 Purpose 对应的系统提示。
func SystemPrompt(purpose Purpose) string {
	switch purpose {
	case PurposeEntityLookup:
		return "You identify which hotel the user is talking about. " +
			"Reply with a compact JSON object: {\"entityName\": string or null}. " +
			"Only use names that appear in the catalog."
	case PurposeBookingDates:
		return "You extract stay dates from a conversation. " +
			"Reply with a compact JSON object: {\"checkin\": string or null, \"checkout\": string or null}. " +
			"Use the YYYY-MM-DD format and null when a date was not given."
	default:
		return "You are the front desk router of a hotel network. Classify the user's message. " +
			"Reply with a compact JSON object: {\"category\": one of conversation|catalog_search|entity_specific|booking_confirmation, " +
			"\"message\": string, \"targetEntityId\": string or null, \"targetEntityName\": string or null, " +
			"\"searchParams\": {\"city\",\"country\",\"minStars\",\"maxPrice\",\"tags\",\"name\"} or null, " +
			"\"confidence\": number between 0 and 1, \"requiresRouting\": boolean}."
	}
}

// UserPrompt 把请求上下文渲染为一段用户消息。
func UserPrompt(req Request) string {
	var builder strings.Builder
	if catalog := strings.TrimSpace(req.Catalog); catalog != "" {
		builder.WriteString("## Catalog\n")
		builder.WriteString(catalog)
		builder.WriteString("\n\n")
	}
	if history := strings.TrimSpace(req.History); history != "" {
		builder.WriteString("## Conversation so far\n")
		builder.WriteString(history)
		builder.WriteString("\n\n")
	}
	builder.WriteString(fmt.Sprintf("## User message\n%s\n", strings.TrimSpace(req.Query)))
	return builder.String()
}
