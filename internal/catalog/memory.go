package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	xerrors "StayRelay/internal/errors"
)

// MemoryStore 在进程内保存酒店目录，按命名空间组织。
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string][]Hotel
}

// NewMemoryStore 创建内存目录，hotels 写入默认命名空间。
func NewMemoryStore(hotels []Hotel) *MemoryStore {
	store := &MemoryStore{namespaces: make(map[string][]Hotel)}
	if len(hotels) > 0 {
		store.namespaces[DefaultNamespace] = normalizeHotels(DefaultNamespace, hotels)
	}
	return store
}

// LoadFile 从 JSON 文件加载酒店列表。
func LoadFile(path string) ([]Hotel, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}
	defer file.Close()

	var hotels []Hotel
	if err := json.NewDecoder(file).Decode(&hotels); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}
	return hotels, nil
}

// Search 返回满足条件的酒店，空条件表示全量列表。
func (m *MemoryStore) Search(_ context.Context, params *SearchParams, limit int) ([]Hotel, error) {
	limit = normalizeLimit(limit)
	all := m.snapshot()

	results := make([]Hotel, 0, min(limit, len(all)))
	for _, hotel := range all {
		if !Matches(hotel, params) {
			continue
		}
		results = append(results, hotel)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Ingest 整体替换命名空间下的酒店。
func (m *MemoryStore) Ingest(_ context.Context, namespace string, hotels []Hotel) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := validateHotels(hotels); err != nil {
		return err
	}

	normalized := normalizeHotels(namespace, hotels)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(normalized) == 0 {
		delete(m.namespaces, namespace)
		return nil
	}
	m.namespaces[namespace] = normalized
	return nil
}

// Namespace 返回命名空间内酒店的副本。
func (m *MemoryStore) Namespace(_ context.Context, namespace string) ([]Hotel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hotels := m.namespaces[strings.TrimSpace(namespace)]
	if len(hotels) == 0 {
		return nil, nil
	}
	return normalizeHotels(strings.TrimSpace(namespace), hotels), nil
}

// All 返回全部酒店的副本。
func (m *MemoryStore) All(context.Context) ([]Hotel, error) {
	return m.snapshot(), nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) snapshot() []Hotel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)

	var merged []Hotel
	for _, name := range names {
		merged = append(merged, m.namespaces[name]...)
	}
	return MergeByID(merged)
}

// MergeByID 去除重复 ID：租户命名空间中的记录覆盖默认命名空间，结果按名称排序。
func MergeByID(hotels []Hotel) []Hotel {
	byID := make(map[string]Hotel, len(hotels))
	for _, hotel := range hotels {
		existing, ok := byID[hotel.ID]
		if ok && existing.Namespace != DefaultNamespace && hotel.Namespace == DefaultNamespace {
			continue
		}
		byID[hotel.ID] = hotel
	}
	merged := make([]Hotel, 0, len(byID))
	for _, hotel := range byID {
		merged = append(merged, hotel)
	}
	SortHotels(merged)
	return merged
}

func validateHotels(hotels []Hotel) error {
	for _, hotel := range hotels {
		if strings.TrimSpace(hotel.ID) == "" || strings.TrimSpace(hotel.Name) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "酒店缺少 id 或 name")
		}
	}
	return nil
}

func normalizeHotels(namespace string, hotels []Hotel) []Hotel {
	out := make([]Hotel, 0, len(hotels))
	for _, hotel := range hotels {
		hotel.ID = strings.TrimSpace(hotel.ID)
		hotel.Name = strings.TrimSpace(hotel.Name)
		hotel.Namespace = namespace
		if len(hotel.Tags) > 0 {
			hotel.Tags = append([]string(nil), hotel.Tags...)
		}
		out = append(out, hotel)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
