// Package heuristic 提供一个基于关键字规则的确定性分类器，
// 在未配置模型服务时使用，也便于测试。
package heuristic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"StayRelay/internal/llm"
)

var (
	summaryLine  = regexp.MustCompile(`^-\s*([^:]+):\s*(.+?)\s*\(([^,]*),\s*([^)]*)\)\s*$`)
	isoDate      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	starsPattern = regexp.MustCompile(`(\d)\s*(?:-\s*)?star`)
	pricePattern = regexp.MustCompile(`(?:under|below|less than|max)\s*\$?\s*(\d+)`)
)

var (
	bookingKeywords = []string{"book", "reserve", "reservation", "confirm"}
	searchKeywords  = []string{"hotel", "hotels", "find", "search", "show", "list", "options", "available", "stay in", "rooms"}
)

type entry struct {
	id      string
	name    string
	city    string
	country string
}

// Client 是规则分类器。
type Client struct{}

// NewClient 创建规则分类器。
func NewClient() *Client { return &Client{} }

// Generate 根据 Purpose 生成与模型相同结构的 JSON 文本。
func (c *Client) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	entries := parseCatalog(req.Catalog)

	var payload any
	switch req.Purpose {
	case llm.PurposeEntityLookup:
		payload = map[string]any{"entityName": nullable(findEntity(entries, req.Query+"\n"+req.History).name)}
	case llm.PurposeBookingDates:
		dates := isoDate.FindAllString(req.Query, -1)
		if len(dates) < 2 {
			dates = append(dates, isoDate.FindAllString(req.History, -1)...)
		}
		checkin, checkout := "", ""
		if len(dates) > 0 {
			checkin = dates[0]
		}
		if len(dates) > 1 {
			checkout = dates[1]
		}
		payload = map[string]any{"checkin": nullable(checkin), "checkout": nullable(checkout)}
	default:
		payload = classify(entries, req.Query)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("编码分类结果失败: %w", err)
	}
	return &llm.Response{Content: string(encoded)}, nil
}

func classify(entries []entry, query string) map[string]any {
	lowered := strings.ToLower(query)
	matched := findEntity(entries, query)

	result := map[string]any{
		"targetEntityId":   nil,
		"targetEntityName": nil,
		"searchParams":     nil,
		"requiresRouting":  false,
	}

	switch {
	case containsAny(lowered, bookingKeywords):
		result["category"] = "booking_confirmation"
		result["message"] = "Let me prepare your booking."
		result["confidence"] = 0.8
		if matched.name != "" {
			result["targetEntityId"] = matched.id
			result["targetEntityName"] = matched.name
		}
	case matched.name != "":
		result["category"] = "entity_specific"
		result["message"] = fmt.Sprintf("Let me ask %s about that.", matched.name)
		result["targetEntityName"] = matched.name
		result["requiresRouting"] = true
		result["confidence"] = 0.85
	case containsAny(lowered, searchKeywords):
		result["category"] = "catalog_search"
		result["message"] = "Here are the hotels I found."
		result["searchParams"] = extractParams(entries, lowered)
		result["confidence"] = 0.75
	default:
		result["category"] = "conversation"
		result["message"] = "Hello! I can help you find hotels, answer questions about a specific hotel, or confirm a booking."
		result["confidence"] = 0.6
	}
	return result
}

func extractParams(entries []entry, lowered string) map[string]any {
	params := map[string]any{}
	for _, e := range entries {
		if e.city != "" && strings.Contains(lowered, strings.ToLower(e.city)) {
			params["city"] = e.city
			break
		}
	}
	if _, ok := params["city"]; !ok {
		for _, e := range entries {
			if e.country != "" && strings.Contains(lowered, strings.ToLower(e.country)) {
				params["country"] = e.country
				break
			}
		}
	}
	if m := starsPattern.FindStringSubmatch(lowered); m != nil {
		if stars, err := strconv.Atoi(m[1]); err == nil {
			params["minStars"] = stars
		}
	}
	if m := pricePattern.FindStringSubmatch(lowered); m != nil {
		if price, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			params["maxPrice"] = price
		}
	}
	return params
}

// findEntity 返回文本中出现的最长酒店名，保证多个候选时结果稳定。
func findEntity(entries []entry, text string) entry {
	lowered := strings.ToLower(text)
	candidates := make([]entry, 0, 1)
	for _, e := range entries {
		if e.name != "" && strings.Contains(lowered, strings.ToLower(e.name)) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return entry{}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].name) == len(candidates[j].name) {
			return candidates[i].id < candidates[j].id
		}
		return len(candidates[i].name) > len(candidates[j].name)
	})
	return candidates[0]
}

func parseCatalog(summary string) []entry {
	var entries []entry
	for _, line := range strings.Split(summary, "\n") {
		m := summaryLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		entries = append(entries, entry{
			id:      strings.TrimSpace(m[1]),
			name:    strings.TrimSpace(m[2]),
			city:    dashless(m[3]),
			country: dashless(m[4]),
		})
	}
	return entries
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func dashless(value string) string {
	value = strings.TrimSpace(value)
	if value == "-" {
		return ""
	}
	return value
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

var _ llm.Client = (*Client)(nil)
