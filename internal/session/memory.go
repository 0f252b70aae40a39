package session

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMaxContexts 是内存存储默认保留的会话数上限。
	DefaultMaxContexts = 10000
	// DefaultIdleTTL 是会话无新轮次后被视为过期的默认时长。
	DefaultIdleTTL = 24 * time.Hour
)

// MemoryOption 调整 MemoryStore 的容量与过期策略。
type MemoryOption func(*MemoryStore)

// WithMaxContexts 设置保留的会话数上限，超出时淘汰最久未写入的会话。
func WithMaxContexts(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxContexts = n
		}
	}
}

// WithIdleTTL 设置会话空闲过期时长。
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

type memorySession struct {
	turns   []Turn
	touched time.Time
}

// MemoryStore 在进程内保存会话，每个会话最多保留 window 轮，
// 会话总数受 maxContexts 限制，空闲超过 idleTTL 的会话视为不存在。
type MemoryStore struct {
	mu          sync.Mutex
	window      int
	maxContexts int
	idleTTL     time.Duration
	sessions    map[string]*memorySession
	now         func() time.Time
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore(window int, opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		window:      normalizeWindow(window),
		maxContexts: DefaultMaxContexts,
		idleTTL:     DefaultIdleTTL,
		sessions:    make(map[string]*memorySession),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// History 返回会话历史的副本。
func (s *MemoryStore) History(_ context.Context, contextID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[contextID]
	if !ok {
		return []Turn{}, nil
	}
	if s.expiredLocked(sess, s.now()) {
		delete(s.sessions, contextID)
		return []Turn{}, nil
	}
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

// Append 追加一轮并裁剪到窗口大小。
func (s *MemoryStore) Append(_ context.Context, contextID string, turn Turn) error {
	now := s.now()
	if turn.At.IsZero() {
		turn.At = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[contextID]
	if !ok || s.expiredLocked(sess, now) {
		sess = &memorySession{}
		s.sessions[contextID] = sess
	}
	turns := append(sess.turns, turn)
	if overflow := len(turns) - s.window; overflow > 0 {
		turns = append([]Turn(nil), turns[overflow:]...)
	}
	sess.turns = turns
	sess.touched = now
	s.evictLocked(now)
	return nil
}

// Len 返回当前保留的会话数。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) expiredLocked(sess *memorySession, now time.Time) bool {
	return now.Sub(sess.touched) > s.idleTTL
}

// evictLocked 超出上限时先清理过期会话，仍超出则按最近写入时间淘汰。
func (s *MemoryStore) evictLocked(now time.Time) {
	if len(s.sessions) <= s.maxContexts {
		return
	}
	for id, sess := range s.sessions {
		if s.expiredLocked(sess, now) {
			delete(s.sessions, id)
		}
	}
	for len(s.sessions) > s.maxContexts {
		var victimID string
		var victim *memorySession
		for id, sess := range s.sessions {
			if victim == nil || sess.touched.Before(victim.touched) ||
				(sess.touched.Equal(victim.touched) && id < victimID) {
				victimID, victim = id, sess
			}
		}
		delete(s.sessions, victimID)
	}
}

var _ Store = (*MemoryStore)(nil)
