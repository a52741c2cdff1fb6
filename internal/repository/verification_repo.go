package repository

import (
	"context"
	"time"

	"github.com/qs3c/meter_pay_server/internal/model"
)

func verificationKey(purpose model.VerificationPurpose, email string) string {
	if purpose == model.PurposePasswordReset {
		return "password_reset:" + email
	}
	return "verification:" + email
}

type VerificationRepository struct {
	store *Store
}

func NewVerificationRepository(store *Store) *VerificationRepository {
	return &VerificationRepository{store: store}
}

// Save 覆盖同一邮箱同一用途下的旧验证码
func (r *VerificationRepository) Save(ctx context.Context, purpose model.VerificationPurpose, code *model.VerificationCode, ttl time.Duration) error {
	return r.store.SetJSON(ctx, verificationKey(purpose, code.Email), code, ttl)
}

func (r *VerificationRepository) Get(ctx context.Context, purpose model.VerificationPurpose, email string) (*model.VerificationCode, error) {
	var code model.VerificationCode
	if err := r.store.GetJSON(ctx, verificationKey(purpose, email), &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// Update 原子读改写，写回时使用新的 ttl
func (r *VerificationRepository) Update(ctx context.Context, purpose model.VerificationPurpose, email string, ttl time.Duration, mutate func(*model.VerificationCode) error) (*model.VerificationCode, error) {
	return UpdateJSON(ctx, r.store, verificationKey(purpose, email), ttl, mutate)
}

func (r *VerificationRepository) DeleteAll(ctx context.Context, email string) error {
	return r.store.Del(ctx,
		verificationKey(model.PurposeEmailVerification, email),
		verificationKey(model.PurposePasswordReset, email),
	)
}
