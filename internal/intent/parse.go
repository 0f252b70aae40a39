package intent

import (
	"strings"

	"github.com/tidwall/gjson"

	"StayRelay/internal/catalog"
)

const defaultConfidence = 0.5

// Parse 把模型输出解析为 Classification。无法解析或不合法时返回降级结果，
// 第二个返回值为 false。
func Parse(raw string) (Classification, bool) {
	object, ok := extractObject(raw)
	if !ok {
		return Fallback(raw, FallbackConfidence), false
	}

	doc := gjson.Parse(object)
	confidence := readConfidence(doc.Get("confidence"))

	category := Category(strings.ToLower(strings.TrimSpace(doc.Get("category").String())))
	if !category.Valid() {
		return Fallback(raw, confidence), false
	}

	message := doc.Get("message")
	if message.Type != gjson.String {
		return Fallback(raw, confidence), false
	}

	return Classification{
		Category:         category,
		Message:          message.String(),
		TargetEntityID:   readOptionalString(doc.Get("targetEntityId")),
		TargetEntityName: readOptionalString(doc.Get("targetEntityName")),
		SearchParams:     readSearchParams(doc.Get("searchParams")),
		Confidence:       confidence,
		RequiresRouting:  doc.Get("requiresRouting").Bool(),
	}, true
}

// ParseEntityLookup 读取 {"entityName": ...} 结构。
func ParseEntityLookup(raw string) (string, bool) {
	object, ok := extractObject(raw)
	if !ok {
		return "", false
	}
	name := readOptionalString(gjson.Get(object, "entityName"))
	if name == nil {
		return "", false
	}
	return *name, true
}

// ParseBookingDates 读取 {"checkin": ..., "checkout": ...} 结构，缺失字段返回空字符串。
func ParseBookingDates(raw string) (checkin, checkout string) {
	object, ok := extractObject(raw)
	if !ok {
		return "", ""
	}
	doc := gjson.Parse(object)
	if value := readOptionalString(doc.Get("checkin")); value != nil {
		checkin = *value
	}
	if value := readOptionalString(doc.Get("checkout")); value != nil {
		checkout = *value
	}
	return checkin, checkout
}

// extractObject 去除代码块标记并截取第一个 '{' 到最后一个 '}' 之间的 JSON 对象。
func extractObject(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	object := text[start : end+1]
	if !gjson.Valid(object) {
		return "", false
	}
	return object, true
}

func readConfidence(value gjson.Result) float64 {
	if value.Type != gjson.Number {
		return defaultConfidence
	}
	confidence := value.Float()
	switch {
	case confidence < 0:
		return 0
	case confidence > 1:
		return 1
	default:
		return confidence
	}
}

func readOptionalString(value gjson.Result) *string {
	if value.Type != gjson.String {
		return nil
	}
	return StringPtr(value.String())
}

func readSearchParams(value gjson.Result) *catalog.SearchParams {
	if !value.IsObject() {
		return nil
	}
	params := &catalog.SearchParams{
		Name:     strings.TrimSpace(value.Get("name").String()),
		City:     strings.TrimSpace(value.Get("city").String()),
		Country:  strings.TrimSpace(value.Get("country").String()),
		MinStars: int(value.Get("minStars").Int()),
		MaxPrice: value.Get("maxPrice").Int(),
	}

	tags := value.Get("tags")
	switch {
	case tags.IsArray():
		tags.ForEach(func(_, tag gjson.Result) bool {
			if text := strings.TrimSpace(tag.String()); text != "" {
				params.Tags = append(params.Tags, text)
			}
			return true
		})
	case tags.Type == gjson.String:
		for _, tag := range strings.Split(tags.String(), ",") {
			if text := strings.TrimSpace(tag); text != "" {
				params.Tags = append(params.Tags, text)
			}
		}
	}
	return params
}
