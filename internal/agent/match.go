package agent

import (
	"strings"
	"unicode/utf8"

	"StayRelay/internal/catalog"
)

// MatchEntity 以大小写无关的双向子串包含匹配酒店名称。
// 多个候选时：完全相同优先，其次名称最短，最后按 ID 字典序。
func MatchEntity(hotels []catalog.Hotel, name string) (catalog.Hotel, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return catalog.Hotel{}, false
	}

	var (
		best  catalog.Hotel
		found bool
	)
	for _, h := range hotels {
		candidate := strings.ToLower(strings.TrimSpace(h.Name))
		if candidate == "" {
			continue
		}
		if !strings.Contains(candidate, needle) && !strings.Contains(needle, candidate) {
			continue
		}
		if !found || betterMatch(h, best, needle) {
			best = h
			found = true
		}
	}
	return best, found
}

func betterMatch(a, b catalog.Hotel, needle string) bool {
	aExact := strings.EqualFold(strings.TrimSpace(a.Name), needle)
	bExact := strings.EqualFold(strings.TrimSpace(b.Name), needle)
	if aExact != bExact {
		return aExact
	}
	aLen := utf8.RuneCountInString(strings.TrimSpace(a.Name))
	bLen := utf8.RuneCountInString(strings.TrimSpace(b.Name))
	if aLen != bLen {
		return aLen < bLen
	}
	return a.ID < b.ID
}

// findByID 按 ID 精确查找酒店。
func findByID(hotels []catalog.Hotel, id string) (catalog.Hotel, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return catalog.Hotel{}, false
	}
	for _, h := range hotels {
		if h.ID == id {
			return h, true
		}
	}
	return catalog.Hotel{}, false
}
