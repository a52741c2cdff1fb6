package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/apperr"
	"github.com/qs3c/meter_pay_server/internal/testutil"
)

func TestCredentialService_CreateUser(t *testing.T) {
	env := setupServices(t)

	user, err := env.credentials.CreateUser(env.ctx, "new@example.com", "secret1", "")
	require.NoError(t, err)

	assert.Len(t, user.ID, 12)
	assert.Equal(t, model.SubscriptionTrial, user.SubscriptionType)
	assert.Equal(t, model.UserStatusActive, user.Status)
	assert.Equal(t, NewUserGiftCalls, user.APICallsRemaining)
	assert.Equal(t, 0, user.InviteGiftCalls)
	assert.False(t, user.EmailVerified)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	stored, err := env.credentials.GetByEmail(env.ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)

	count, err := env.invites.ActiveCount(env.ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, InitialInviteCodes, count)
}

func TestCredentialService_CreateUser_Invited(t *testing.T) {
	env := setupServices(t)
	inviter := testutil.TestUser(t, env.client)

	user, err := env.credentials.CreateUser(env.ctx, "invited@example.com", "secret1", inviter.ID)
	require.NoError(t, err)

	assert.Equal(t, inviter.ID, user.InvitedBy)
	assert.Equal(t, NewUserGiftCalls+InviteGiftCalls, user.APICallsRemaining)
	assert.Equal(t, InviteGiftCalls, user.InviteGiftCalls)
}

func TestCredentialService_CreateUser_Duplicate(t *testing.T) {
	env := setupServices(t)
	existing := testutil.TestUser(t, env.client)

	_, err := env.credentials.CreateUser(env.ctx, existing.Email, "secret1", "")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCredentialService_CreateUser_CarriesVerifiedFlag(t *testing.T) {
	env := setupServices(t)
	require.NoError(t, env.credentials.MarkEmailVerified(env.ctx, "early@example.com"))

	user, err := env.credentials.CreateUser(env.ctx, "early@example.com", "secret1", "")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
}

func TestCredentialService_GetByID_NotFound(t *testing.T) {
	env := setupServices(t)

	_, err := env.credentials.GetByID(env.ctx, "missing00000")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = env.credentials.GetByEmail(env.ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCredentialService_VerifyPassword(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)

	assert.True(t, env.credentials.VerifyPassword(user.PasswordHash, testutil.TestPassword))
	assert.False(t, env.credentials.VerifyPassword(user.PasswordHash, "wrong-password"))
	assert.False(t, env.credentials.VerifyPassword("not-a-hash", testutil.TestPassword))
}

func TestCredentialService_MarkEmailVerified_ExistingUser(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client, func(u *model.User) { u.EmailVerified = false })

	verified, err := env.credentials.IsEmailVerified(env.ctx, user.Email)
	require.NoError(t, err)
	assert.False(t, verified)

	require.NoError(t, env.credentials.MarkEmailVerified(env.ctx, user.Email))

	verified, err = env.credentials.IsEmailVerified(env.ctx, user.Email)
	require.NoError(t, err)
	assert.True(t, verified)
	assert.True(t, env.reloadUser(t, user.ID).EmailVerified)
}

func TestCredentialService_UpdateLastLogin(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)
	require.Nil(t, user.LastLogin)

	updated, err := env.credentials.UpdateLastLogin(env.ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastLogin)
	assert.NotNil(t, env.reloadUser(t, user.ID).LastLogin)

	_, err = env.credentials.UpdateLastLogin(env.ctx, "missing00000")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCredentialService_Save(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)

	user.Status = model.UserStatusSuspended
	require.NoError(t, env.credentials.Save(env.ctx, user))

	assert.Equal(t, model.UserStatusSuspended, env.reloadUser(t, user.ID).Status)
}

func TestCredentialService_UpdatePassword(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)

	require.NoError(t, env.credentials.UpdatePassword(env.ctx, user.Email, "brand-new-pass"))

	stored := env.reloadUser(t, user.ID)
	assert.True(t, env.credentials.VerifyPassword(stored.PasswordHash, "brand-new-pass"))
	assert.False(t, env.credentials.VerifyPassword(stored.PasswordHash, testutil.TestPassword))

	err := env.credentials.UpdatePassword(env.ctx, "nobody@example.com", "whatever1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCredentialService_WipeByEmail(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)
	testutil.TestInvite(t, env.client, user.ID)
	testutil.TestInvite(t, env.client, user.ID)
	payment := testutil.TestPayment(t, env.client, user.ID)
	token, err := env.tokens.Issue(env.ctx, user.ID)
	require.NoError(t, err)
	_, err = env.verifications.Issue(env.ctx, user.Email, model.PurposePasswordReset)
	require.NoError(t, err)

	report, err := env.credentials.WipeByEmail(env.ctx, user.Email)
	require.NoError(t, err)

	assert.Equal(t, user.ID, report.UserID)
	assert.Equal(t, 2, report.InviteCodes)
	assert.Equal(t, 1, report.Sessions)
	assert.True(t, report.PaymentsRetained)

	_, err = env.credentials.GetByEmail(env.ctx, user.Email)
	assert.ErrorIs(t, err, ErrUserNotFound)
	verified, err := env.credentials.IsEmailVerified(env.ctx, user.Email)
	require.NoError(t, err)
	assert.False(t, verified)
	_, err = env.sessions.Get(env.ctx, token)
	assert.Error(t, err)
	assert.False(t, env.mr.Exists("password_reset:"+user.Email))

	// 支付记录保留
	assert.Equal(t, payment.ID, env.reloadPayment(t, payment.ID).ID)

	// 邮箱可以重新注册
	_, err = env.credentials.CreateUser(env.ctx, user.Email, "secret1", "")
	assert.NoError(t, err)
}

func TestCredentialService_WipeByEmail_NotFound(t *testing.T) {
	env := setupServices(t)

	_, err := env.credentials.WipeByEmail(env.ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
