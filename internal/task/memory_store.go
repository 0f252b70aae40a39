package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/stream"
)

// DefaultCapacity 是内存中保留的任务记录上限。
const DefaultCapacity = 1000

// MemoryStore 以内存方式保存任务记录。超过容量时优先淘汰最早更新的终态任务。
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	capacity int
	now      func() time.Time
}

// NewMemoryStore 创建 MemoryStore，capacity <= 0 时使用 DefaultCapacity。
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		tasks:    make(map[string]*Task),
		capacity: capacity,
		now:      time.Now,
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := m.now().UnixMilli()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.State == "" {
		task.State = stream.StateCreated
	}
	m.tasks[task.ID] = cloneTask(task)
	m.evictLocked()
	return nil
}

// Get 返回任务副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// Update 实现 Store 接口。ID 与创建时间不可修改。
func (m *MemoryStore) Update(_ context.Context, id string, mutate func(*Task)) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if mutate != nil {
		working := cloneTask(task)
		mutate(working)
		working.ID = task.ID
		working.CreatedAt = task.CreatedAt
		task = working
	}
	task.UpdatedAt = m.now().UnixMilli()
	m.tasks[id] = task
	return cloneTask(task), nil
}

// Transition 实现 Store 接口。
func (m *MemoryStore) Transition(_ context.Context, id string, state stream.State, reply string) (*Task, error) {
	if !IsValidState(state) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(state))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.State.Terminal() {
		return cloneTask(task), ErrTaskConflict
	}
	task.State = state
	if reply != "" {
		task.Reply = reply
	}
	task.UpdatedAt = m.now().UnixMilli()
	return cloneTask(task), nil
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		results = append(results, cloneTask(task))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Task{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := TaskStats{}
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		stats.Total++
		switch task.State {
		case stream.StateCreated:
			stats.Created++
		case stream.StateWorking:
			stats.Working++
		case stream.StateCompleted:
			stats.Completed++
		case stream.StateFailed:
			stats.Failed++
		}
		if task.Dispatched {
			stats.Dispatched++
		}
		if task.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = task.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (task.UpdatedAt != 0 && task.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = task.UpdatedAt
		}
	}
	return stats, nil
}

// Len 返回当前保存的任务数量。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) evictLocked() {
	for len(m.tasks) > m.capacity {
		var victim *Task
		for _, task := range m.tasks {
			if victim == nil || evictBefore(task, victim) {
				victim = task
			}
		}
		if victim == nil {
			return
		}
		delete(m.tasks, victim.ID)
	}
}

// evictBefore 终态任务先于进行中的任务被淘汰，同类中按更新时间与 ID 排序。
func evictBefore(a, b *Task) bool {
	at, bt := a.State.Terminal(), b.State.Terminal()
	if at != bt {
		return at
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt < b.UpdatedAt
	}
	return a.ID < b.ID
}

func matchesListFilters(task *Task, opts ListOptions) bool {
	if len(opts.States) > 0 {
		matched := false
		for _, state := range opts.States {
			if task.State == state {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.ContextID != "" && task.ContextID != opts.ContextID {
		return false
	}
	if opts.Category != "" && task.Category != opts.Category {
		return false
	}
	if opts.Dispatched != nil && task.Dispatched != *opts.Dispatched {
		return false
	}
	if opts.UpdatedGTE > 0 && task.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && task.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Query != "" {
		if !strings.Contains(strings.ToLower(task.InputText), opts.Query) &&
			!strings.Contains(strings.ToLower(task.Reply), opts.Query) {
			return false
		}
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
