package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 会话存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	Window   int
	// TTL 为会话的过期时间，0 表示不过期。
	TTL time.Duration
}

// RedisStore 使用 Redis list 保存会话轮次，RPUSH 后 LTRIM 到窗口大小。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	window int
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore 创建 Redis 会话存储并检测连通性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisStore(client, cfg), nil
}

func newRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "stayrelay:session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		window: normalizeWindow(cfg.Window),
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

// History 读取窗口内的全部轮次，无法解码的条目被跳过。
func (s *RedisStore) History(ctx context.Context, contextID string) ([]Turn, error) {
	values, err := s.client.LRange(ctx, s.key(contextID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取会话失败: %w", err)
	}
	turns := make([]Turn, 0, len(values))
	for _, value := range values {
		var turn Turn
		if err := json.Unmarshal([]byte(value), &turn); err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Append 在一个事务管道中追加、裁剪并刷新过期时间。
func (s *RedisStore) Append(ctx context.Context, contextID string, turn Turn) error {
	if turn.At.IsZero() {
		turn.At = s.now()
	}
	encoded, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("序列化会话失败: %w", err)
	}

	key := s.key(contextID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, encoded)
		pipe.LTrim(ctx, key, int64(-s.window), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入会话失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) key(contextID string) string {
	return s.prefix + contextID
}

var _ Store = (*RedisStore)(nil)
