package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrNoChange  = errors.New("no change")
	ErrContended = errors.New("too many concurrent updates")
)

const (
	minRetryBackoff = time.Millisecond
	maxRetryBackoff = 32 * time.Millisecond
)

// Store 基于 Redis 的键值存储，所有仓库共享
type Store struct {
	client *redis.Client
	// retries 为 0 时事务冲突会一直重试到 ctx 结束
	retries int
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

// Set ttl 为 0 表示不过期
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetNX 仅在 key 不存在时写入
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *Store) GetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) HSetJSON(ctx context.Context, key, field string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.client.HSet(ctx, key, field, data).Err()
}

// HSetNXJSON 字段已存在时返回 false
func (s *Store) HSetNXJSON(ctx context.Context, key, field string, v interface{}) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.client.HSetNX(ctx, key, field, data).Result()
}

func (s *Store) HGetJSON(ctx context.Context, key, field string, v interface{}) error {
	data, err := s.client.HGet(ctx, key, field).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

// ZAddNX 成员已存在时不更新分数，返回是否新增
func (s *Store) ZAddNX(ctx context.Context, key string, score float64, member string) (bool, error) {
	n, err := s.client.ZAddNX(ctx, key, &redis.Z{Score: score, Member: member}).Result()
	return n > 0, err
}

// ZRevRange 按分数从高到低返回全部成员
func (s *Store) ZRevRange(ctx context.Context, key string) ([]string, error) {
	return s.client.ZRevRange(ctx, key, 0, -1).Result()
}

// Scan 游标分页遍历 key，返回的 cursor 为 0 表示遍历结束
func (s *Store) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return s.client.Scan(ctx, cursor, match, count).Result()
}

// ScanAll 遍历匹配的全部 key
func (s *Store) ScanAll(ctx context.Context, match string, count int64, fn func(keys []string) error) error {
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys, next, err := s.Scan(ctx, cursor, match, count)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// TTL key 不存在时返回 ErrNotFound，没有过期时间时返回 -1
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d == -2 {
		return 0, ErrNotFound
	}
	return d, nil
}

// watch WATCH key 后执行 fn，事务冲突时退避重试。
// 只有 ctx 结束或达到 retries 上限才返回 ErrContended
func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	backoff := minRetryBackoff
	for attempt := 1; ; attempt++ {
		err := s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if s.retries > 0 && attempt >= s.retries {
			return ErrContended
		}

		// 随机退避，避免冲突方同时重试
		timer := time.NewTimer(backoff/2 + rand.N(backoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContended, ctx.Err())
		case <-timer.C:
		}
		if backoff < maxRetryBackoff {
			backoff *= 2
		}
	}
}

// UpdateJSON 以 compare-and-set 的方式改写字符串 key 中的 JSON 记录。
// mutate 返回 ErrNoChange 时不写回，返回其他错误时中止并原样返回。
// 每次重试都会重新读取记录，mutate 必须只依赖传入的值。
func UpdateJSON[T any](ctx context.Context, s *Store, key string, ttl time.Duration, mutate func(*T) error) (*T, error) {
	var result *T
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		if err := mutate(v); err != nil {
			if errors.Is(err, ErrNoChange) {
				result = v
				return nil
			}
			return err
		}

		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err == nil {
			result = v
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateHashJSON 与 UpdateJSON 相同，作用于哈希字段
func UpdateHashJSON[T any](ctx context.Context, s *Store, key, field string, mutate func(*T) error) (*T, error) {
	var result *T
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, field).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		if err := mutate(v); err != nil {
			if errors.Is(err, ErrNoChange) {
				result = v
				return nil
			}
			return err
		}

		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, out)
			return nil
		})
		if err == nil {
			result = v
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
