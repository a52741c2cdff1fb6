package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/apperr"
	"github.com/qs3c/meter_pay_server/internal/testutil"
)

func TestAuthService_SendVerificationCode(t *testing.T) {
	env := setupServices(t)

	require.NoError(t, env.auth.SendVerificationCode(env.ctx, "a@example.com"))

	require.Equal(t, 1, env.mailer.count())
	mail := env.mailer.sent[0]
	assert.Equal(t, "a@example.com", mail.to)
	assert.Contains(t, mail.html, env.issuedCode(t, model.PurposeEmailVerification, "a@example.com"))
}

func TestAuthService_SendVerificationCode_AlreadyRegistered(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)

	err := env.auth.SendVerificationCode(env.ctx, user.Email)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, 0, env.mailer.count())
}

func TestAuthService_SendVerificationCode_MailFailure(t *testing.T) {
	env := setupServices(t)
	env.mailer.fail = true

	err := env.auth.SendVerificationCode(env.ctx, "a@example.com")
	assert.ErrorIs(t, err, ErrEmailSendFailed)
}

func TestAuthService_VerifyEmail_InvalidCode(t *testing.T) {
	env := setupServices(t)
	require.NoError(t, env.auth.SendVerificationCode(env.ctx, "a@example.com"))

	err := env.auth.VerifyEmail(env.ctx, &dto.VerifyEmailRequest{Email: "a@example.com", Code: "12345x"})
	assert.ErrorIs(t, err, ErrInvalidCode)

	verified, err := env.credentials.IsEmailVerified(env.ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, verified)
}

// 验证邮箱之前注册失败，验证之后注册成功并获得 3 次调用
func TestAuthService_Register_RequiresVerifiedEmail(t *testing.T) {
	env := setupServices(t)
	req := &dto.RegisterRequest{Email: "a@x.com", Password: "p1pass"}

	_, err := env.auth.Register(env.ctx, req)
	assert.ErrorIs(t, err, ErrEmailNotVerified)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, env.auth.SendVerificationCode(env.ctx, "a@x.com"))
	code := env.issuedCode(t, model.PurposeEmailVerification, "a@x.com")
	require.NoError(t, env.auth.VerifyEmail(env.ctx, &dto.VerifyEmailRequest{Email: "a@x.com", Code: code}))

	resp, err := env.auth.Register(env.ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, "a@x.com", resp.User.Email)
	assert.Equal(t, 3, resp.User.APICallsRemaining)
	assert.True(t, resp.User.EmailVerified)
	assert.Equal(t, "trial", resp.User.SubscriptionType)

	resolved, err := env.tokens.Resolve(env.ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, resolved.ID)

	// 验证码邮件 + 欢迎邮件
	assert.Equal(t, 2, env.mailer.count())
}

// A 的邀请码被 B 使用：B 由 A 邀请，获得 3+4 次，邀请码失效
func TestAuthService_Register_WithInviteCode(t *testing.T) {
	env := setupServices(t)
	inviter := testutil.TestUser(t, env.client)
	invite := testutil.TestInvite(t, env.client, inviter.ID)
	require.NoError(t, env.credentials.MarkEmailVerified(env.ctx, "b@example.com"))

	resp, err := env.auth.Register(env.ctx, &dto.RegisterRequest{
		Email:      "b@example.com",
		Password:   "secret1",
		InviteCode: invite.Code,
	})
	require.NoError(t, err)
	assert.Equal(t, inviter.ID, resp.User.InvitedBy)
	assert.Equal(t, 7, resp.User.APICallsRemaining)
	assert.Equal(t, 4, resp.User.InviteGiftCalls)

	stored, err := env.invitesRepo.Get(env.ctx, invite.Code)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, resp.User.ID, stored.UsedBy)

	infos, err := env.invites.ListByOwner(env.ctx, inviter.ID)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "b@example.com", infos[0].UsedByEmail)
}

func TestAuthService_Register_UsedInviteCode(t *testing.T) {
	env := setupServices(t)
	inviter := testutil.TestUser(t, env.client)
	invite := testutil.TestInvite(t, env.client, inviter.ID, testutil.WithUsedBy("someone0000"))
	require.NoError(t, env.credentials.MarkEmailVerified(env.ctx, "b@example.com"))

	_, err := env.auth.Register(env.ctx, &dto.RegisterRequest{
		Email:      "b@example.com",
		Password:   "secret1",
		InviteCode: invite.Code,
	})
	assert.ErrorIs(t, err, ErrInvalidInviteCode)

	_, err = env.credentials.GetByEmail(env.ctx, "b@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// 用户创建失败时归还邀请码
func TestAuthService_Register_ReleasesInviteOnFailure(t *testing.T) {
	env := setupServices(t)
	inviter := testutil.TestUser(t, env.client)
	existing := testutil.TestUser(t, env.client)
	invite := testutil.TestInvite(t, env.client, inviter.ID)

	_, err := env.auth.Register(env.ctx, &dto.RegisterRequest{
		Email:      existing.Email,
		Password:   "secret1",
		InviteCode: invite.Code,
	})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	ok, err := env.invites.Validate(env.ctx, invite.Code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthService_Register_WelcomeMailIsBestEffort(t *testing.T) {
	env := setupServices(t)
	require.NoError(t, env.credentials.MarkEmailVerified(env.ctx, "c@example.com"))
	env.mailer.fail = true

	resp, err := env.auth.Register(env.ctx, &dto.RegisterRequest{Email: "c@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, hasLogMessage(env.hook, "send welcome email failed"))
}

func TestAuthService_Login(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)

	resp, err := env.auth.Login(env.ctx, &dto.LoginRequest{Email: user.Email, Password: testutil.TestPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.NotNil(t, resp.User.LastLogin)
	assert.NotNil(t, env.reloadUser(t, user.ID).LastLogin)
}

func TestAuthService_Login_Failures(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)
	suspended := testutil.TestUser(t, env.client, testutil.WithStatus(model.UserStatusSuspended))

	_, err := env.auth.Login(env.ctx, &dto.LoginRequest{Email: user.Email, Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.auth.Login(env.ctx, &dto.LoginRequest{Email: "nobody@example.com", Password: testutil.TestPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))

	_, err = env.auth.Login(env.ctx, &dto.LoginRequest{Email: suspended.Email, Password: testutil.TestPassword})
	assert.ErrorIs(t, err, ErrAccountDisabled)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestAuthService_Logout(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)
	resp, err := env.auth.Login(env.ctx, &dto.LoginRequest{Email: user.Email, Password: testutil.TestPassword})
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(env.ctx, resp.Token))
	assert.False(t, env.mr.Exists("session:"+resp.Token))
}

func TestAuthService_PasswordReset(t *testing.T) {
	env := setupServices(t)
	user := testutil.TestUser(t, env.client)

	require.NoError(t, env.auth.ForgotPassword(env.ctx, user.Email))
	code := env.issuedCode(t, model.PurposePasswordReset, user.Email)
	require.Equal(t, 1, env.mailer.count())
	assert.True(t, strings.Contains(env.mailer.sent[0].html, code))

	err := env.auth.ResetPassword(env.ctx, &dto.ResetPasswordRequest{Email: user.Email, Code: code, NewPassword: "changed-pass"})
	require.NoError(t, err)

	_, err = env.auth.Login(env.ctx, &dto.LoginRequest{Email: user.Email, Password: testutil.TestPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.auth.Login(env.ctx, &dto.LoginRequest{Email: user.Email, Password: "changed-pass"})
	assert.NoError(t, err)

	// 验证码已被消耗
	err = env.auth.ResetPassword(env.ctx, &dto.ResetPasswordRequest{Email: user.Email, Code: code, NewPassword: "again-pass"})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestAuthService_ForgotPassword_UnknownEmail(t *testing.T) {
	env := setupServices(t)

	err := env.auth.ForgotPassword(env.ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 0, env.mailer.count())
}
