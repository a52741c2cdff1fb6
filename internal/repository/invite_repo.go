package repository

import (
	"context"
	"errors"

	"github.com/qs3c/meter_pay_server/internal/model"
)

var ErrCodeTaken = errors.New("invite code already exists")

const inviteDataField = "data"

func inviteKey(code string) string       { return "invite:" + code }
func userInvitesKey(owner string) string { return "user_invites:" + owner }

type InviteRepository struct {
	store *Store
}

func NewInviteRepository(store *Store) *InviteRepository {
	return &InviteRepository{store: store}
}

// Create 写入邀请码并加入所有者的集合，邀请码重复时返回 ErrCodeTaken
func (r *InviteRepository) Create(ctx context.Context, code *model.InviteCode) error {
	ok, err := r.store.HSetNXJSON(ctx, inviteKey(code.Code), inviteDataField, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeTaken
	}
	return r.store.SAdd(ctx, userInvitesKey(code.OwnerID), code.Code)
}

func (r *InviteRepository) Get(ctx context.Context, code string) (*model.InviteCode, error) {
	var inv model.InviteCode
	if err := r.store.HGetJSON(ctx, inviteKey(code), inviteDataField, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InviteRepository) Update(ctx context.Context, code string, mutate func(*model.InviteCode) error) (*model.InviteCode, error) {
	return UpdateHashJSON(ctx, r.store, inviteKey(code), inviteDataField, mutate)
}

func (r *InviteRepository) ListCodes(ctx context.Context, owner string) ([]string, error) {
	return r.store.SMembers(ctx, userInvitesKey(owner))
}

// ListByOwner 跳过集合中已不存在的邀请码
func (r *InviteRepository) ListByOwner(ctx context.Context, owner string) ([]*model.InviteCode, error) {
	codes, err := r.ListCodes(ctx, owner)
	if err != nil {
		return nil, err
	}
	invites := make([]*model.InviteCode, 0, len(codes))
	for _, c := range codes {
		inv, err := r.Get(ctx, c)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, nil
}

// DeleteByOwner 删除所有者的全部邀请码和集合
func (r *InviteRepository) DeleteByOwner(ctx context.Context, owner string) (int, error) {
	codes, err := r.ListCodes(ctx, owner)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(codes)+1)
	for _, c := range codes {
		keys = append(keys, inviteKey(c))
	}
	keys = append(keys, userInvitesKey(owner))
	if err := r.store.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(codes), nil
}
