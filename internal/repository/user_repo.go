package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/qs3c/meter_pay_server/internal/model"
)

var ErrEmailTaken = errors.New("email already indexed")

const (
	userKeyPrefix          = "user:"
	emailKeyPrefix         = "email:"
	verifiedEmailKeyPrefix = "verified_email:"
	userDataField          = "data"
)

func userKey(id string) string            { return userKeyPrefix + id }
func emailKey(email string) string        { return emailKeyPrefix + email }
func verifiedEmailKey(email string) string { return verifiedEmailKeyPrefix + email }

type UserRepository struct {
	store *Store
}

func NewUserRepository(store *Store) *UserRepository {
	return &UserRepository{store: store}
}

// Create 先占用邮箱索引再写入用户记录，邮箱已被占用返回 ErrEmailTaken
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	ok, err := r.store.SetNX(ctx, emailKey(user.Email), user.ID, 0)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEmailTaken
	}
	if err := r.store.HSetJSON(ctx, userKey(user.ID), userDataField, user); err != nil {
		_ = r.store.Del(ctx, emailKey(user.Email))
		return err
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.store.HGetJSON(ctx, userKey(id), userDataField, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetIDByEmail(ctx context.Context, email string) (string, error) {
	return r.store.Get(ctx, emailKey(email))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	id, err := r.GetIDByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.store.Exists(ctx, emailKey(email))
}

// Save 整条覆盖写入（last-writer-wins）
func (r *UserRepository) Save(ctx context.Context, user *model.User) error {
	return r.store.HSetJSON(ctx, userKey(user.ID), userDataField, user)
}

// Update 原子读改写
func (r *UserRepository) Update(ctx context.Context, id string, mutate func(*model.User) error) (*model.User, error) {
	return UpdateHashJSON(ctx, r.store, userKey(id), userDataField, mutate)
}

// Delete 删除用户记录和邮箱索引
func (r *UserRepository) Delete(ctx context.Context, user *model.User) error {
	return r.store.Del(ctx, userKey(user.ID), emailKey(user.Email))
}

// ScanIDs 分页遍历 user:* 返回用户 ID
func (r *UserRepository) ScanIDs(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	keys, next, err := r.store.Scan(ctx, cursor, userKeyPrefix+"*", count)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, userKeyPrefix))
	}
	return ids, next, nil
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, email string) error {
	return r.store.Set(ctx, verifiedEmailKey(email), "1", 0)
}

func (r *UserRepository) IsEmailVerified(ctx context.Context, email string) (bool, error) {
	return r.store.Exists(ctx, verifiedEmailKey(email))
}

func (r *UserRepository) ClearEmailVerified(ctx context.Context, email string) error {
	return r.store.Del(ctx, verifiedEmailKey(email))
}
