package repository

import (
	"context"
	"errors"
	"time"
)

const sessionKeyPrefix = "session:"

func sessionKey(token string) string { return sessionKeyPrefix + token }

type SessionRepository struct {
	store *Store
}

func NewSessionRepository(store *Store) *SessionRepository {
	return &SessionRepository{store: store}
}

func (r *SessionRepository) Set(ctx context.Context, token, userID string, ttl time.Duration) error {
	return r.store.Set(ctx, sessionKey(token), userID, ttl)
}

func (r *SessionRepository) Get(ctx context.Context, token string) (string, error) {
	return r.store.Get(ctx, sessionKey(token))
}

func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	return r.store.Del(ctx, sessionKey(token))
}

// DeleteByUser 扫描 session:* 删除属于该用户的镜像，返回删除数量
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	deleted := 0
	err := r.store.ScanAll(ctx, sessionKeyPrefix+"*", 100, func(keys []string) error {
		for _, k := range keys {
			owner, err := r.store.Get(ctx, k)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if owner != userID {
				continue
			}
			if err := r.store.Del(ctx, k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
