package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/apperr"
	"github.com/qs3c/meter_pay_server/internal/pkg/jwt"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

// TokenService 签发和解析 bearer token。
// session:{token} 镜像只用于主动注销，token 是否有效以签名和过期时间为准
type TokenService struct {
	users      *repository.UserRepository
	sessions   *repository.SessionRepository
	secret     string
	tokenTTL   time.Duration
	sessionTTL time.Duration
	log        logrus.FieldLogger
}

func NewTokenService(
	users *repository.UserRepository,
	sessions *repository.SessionRepository,
	secret string,
	tokenTTL, sessionTTL time.Duration,
	log logrus.FieldLogger,
) *TokenService {
	return &TokenService{
		users:      users,
		sessions:   sessions,
		secret:     secret,
		tokenTTL:   tokenTTL,
		sessionTTL: sessionTTL,
		log:        log,
	}
}

func (s *TokenService) Issue(ctx context.Context, userID string) (string, error) {
	token, err := jwt.GenerateToken(userID, s.secret, s.tokenTTL)
	if err != nil {
		return "", err
	}
	if err := s.sessions.Set(ctx, token, userID, s.sessionTTL); err != nil {
		s.log.WithField("user_id", userID).WithError(err).Warn("mirror session failed")
	}
	return token, nil
}

// Resolve 校验 token 并加载用户
func (s *TokenService) Resolve(ctx context.Context, token string) (*model.User, error) {
	claims, err := jwt.ParseToken(token, s.secret)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, ErrUnauthenticated.Message, err)
	}
	user, err := s.users.GetByID(ctx, claims.UserID())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Invalidate 删除会话镜像，已签发的 token 在过期前仍然可以解析
func (s *TokenService) Invalidate(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}
