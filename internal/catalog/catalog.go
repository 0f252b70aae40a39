package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	xerrors "StayRelay/internal/errors"
)

// DefaultLimit 是目录查询返回结果的上限。
const DefaultLimit = 50

// DefaultNamespace 存放启动时加载的静态酒店数据。
const DefaultNamespace = "default"

// CodeCatalogFailure 表示目录后端查询或写入失败。
const CodeCatalogFailure xerrors.Code = "CATALOG_FAILURE"

func init() {
	xerrors.Register(CodeCatalogFailure, xerrors.Attributes{
		Message:     "catalog backend failure",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
		Alert:       true,
	})
}

// Hotel 是一个可预订、拥有独立代理的酒店。
type Hotel struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	City      string `json:"city,omitempty"`
	Country   string `json:"country,omitempty"`
	Stars     int    `json:"stars,omitempty"`
	// PricePerNight 以最小货币单位表示。
	PricePerNight int64    `json:"pricePerNight"`
	Currency      string   `json:"currency,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Description   string   `json:"description,omitempty"`
	WalletAddress string   `json:"walletAddress,omitempty"`
}

// SearchParams 是分类器抽取出的结构化过滤条件，零值表示不过滤。
type SearchParams struct {
	Name     string   `json:"name,omitempty"`
	City     string   `json:"city,omitempty"`
	Country  string   `json:"country,omitempty"`
	MinStars int      `json:"minStars,omitempty"`
	MaxPrice int64    `json:"maxPrice,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// IsEmpty 判断过滤条件是否为空。
func (p *SearchParams) IsEmpty() bool {
	if p == nil {
		return true
	}
	return strings.TrimSpace(p.Name) == "" &&
		strings.TrimSpace(p.City) == "" &&
		strings.TrimSpace(p.Country) == "" &&
		p.MinStars <= 0 &&
		p.MaxPrice <= 0 &&
		len(p.Tags) == 0
}

// Store 抽象了酒店目录查询服务。
type Store interface {
	// Search 按条件返回酒店列表，limit <= 0 时使用 DefaultLimit。
	Search(ctx context.Context, params *SearchParams, limit int) ([]Hotel, error)
	// Ingest 以命名空间为单位整体替换酒店数据。
	Ingest(ctx context.Context, namespace string, hotels []Hotel) error
	// Namespace 返回单个命名空间内的酒店，不做跨命名空间合并。
	Namespace(ctx context.Context, namespace string) ([]Hotel, error)
	// All 返回目录内全部酒店，用于生成摘要与名称匹配。
	All(ctx context.Context) ([]Hotel, error)
	Close() error
}

// Summary 渲染提供给分类器的目录摘要，每行格式为 "- id: name (city, country)"。
func Summary(hotels []Hotel) string {
	var builder strings.Builder
	for _, h := range hotels {
		builder.WriteString(fmt.Sprintf("- %s: %s (%s, %s)\n", h.ID, h.Name, orDash(h.City), orDash(h.Country)))
	}
	return strings.TrimRight(builder.String(), "\n")
}

// FormatResults 生成确定性的序号列表：名称、位置、星级、价格与标签。
func FormatResults(hotels []Hotel) string {
	if len(hotels) == 0 {
		return "No hotels matched your search."
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Found %d hotel(s):\n", len(hotels)))
	for idx, h := range hotels {
		line := fmt.Sprintf("%d. %s - %s, %s | %d★ | %d %s/night",
			idx+1, h.Name, orDash(h.City), orDash(h.Country), h.Stars, h.PricePerNight, currencyOf(h))
		if len(h.Tags) > 0 {
			line += " | tags: " + strings.Join(h.Tags, ", ")
		}
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	return strings.TrimRight(builder.String(), "\n")
}

// Matches 判断酒店是否满足过滤条件。
func Matches(h Hotel, params *SearchParams) bool {
	if params.IsEmpty() {
		return true
	}
	if name := strings.TrimSpace(params.Name); name != "" && !containsFold(h.Name, name) {
		return false
	}
	if city := strings.TrimSpace(params.City); city != "" && !strings.EqualFold(strings.TrimSpace(h.City), city) {
		return false
	}
	if country := strings.TrimSpace(params.Country); country != "" && !strings.EqualFold(strings.TrimSpace(h.Country), country) {
		return false
	}
	if params.MinStars > 0 && h.Stars < params.MinStars {
		return false
	}
	if params.MaxPrice > 0 && h.PricePerNight > params.MaxPrice {
		return false
	}
	for _, tag := range params.Tags {
		if !hasTag(h.Tags, tag) {
			return false
		}
	}
	return true
}

// SortHotels 以名称、ID 排序，保证列表输出稳定。
func SortHotels(hotels []Hotel) {
	sort.SliceStable(hotels, func(i, j int) bool {
		left, right := strings.ToLower(hotels[i].Name), strings.ToLower(hotels[j].Name)
		if left == right {
			return hotels[i].ID < hotels[j].ID
		}
		return left < right
	})
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultLimit {
		return DefaultLimit
	}
	return limit
}

func hasTag(tags []string, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return true
	}
	for _, tag := range tags {
		if strings.EqualFold(strings.TrimSpace(tag), want) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func currencyOf(h Hotel) string {
	if strings.TrimSpace(h.Currency) == "" {
		return "units"
	}
	return h.Currency
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
