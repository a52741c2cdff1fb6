package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/password"
)

// TestPassword 测试用户的默认密码
const TestPassword = "password123"

var (
	seq          int64
	hashOnce     sync.Once
	passwordHash string
)

func nextSeq() int64 {
	return atomic.AddInt64(&seq, 1)
}

// defaultPasswordHash PBKDF2 计算较慢，所有测试用户共用一个哈希
func defaultPasswordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := password.Hash(TestPassword)
		if err != nil {
			t.Fatalf("Failed to hash password: %v", err)
		}
		passwordHash = h
	})
	return passwordHash
}

func writeHash(t *testing.T, client *redis.Client, key string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal %s: %v", key, err)
	}
	if err := client.HSet(context.Background(), key, "data", data).Err(); err != nil {
		t.Fatalf("Failed to write %s: %v", key, err)
	}
}

// TestUser 创建测试用户（试用，3 次调用，邮箱已验证）
func TestUser(t *testing.T, client *redis.Client, opts ...func(*model.User)) *model.User {
	t.Helper()

	n := nextSeq()
	user := &model.User{
		ID:                fmt.Sprintf("TestUser%04d", n%10000),
		Email:             fmt.Sprintf("test_%d@example.com", n),
		PasswordHash:      defaultPasswordHash(t),
		CreatedAt:         time.Now(),
		Status:            model.UserStatusActive,
		SubscriptionType:  model.SubscriptionTrial,
		APICallsRemaining: 3,
		EmailVerified:     true,
		NewUserGiftCalls:  3,
	}

	for _, opt := range opts {
		opt(user)
	}

	ctx := context.Background()
	writeHash(t, client, "user:"+user.ID, user)
	if err := client.Set(ctx, "email:"+user.Email, user.ID, 0).Err(); err != nil {
		t.Fatalf("Failed to index email: %v", err)
	}
	if user.EmailVerified {
		if err := client.Set(ctx, "verified_email:"+user.Email, "1", 0).Err(); err != nil {
			t.Fatalf("Failed to mark email verified: %v", err)
		}
	}
	return user
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = email
	}
}

// WithSubscription 设置付费订阅和到期时间
func WithSubscription(typ model.SubscriptionType, expiresAt time.Time) func(*model.User) {
	return func(u *model.User) {
		u.SubscriptionType = typ
		u.SubscriptionExpiresAt = &expiresAt
	}
}

// WithCallsRemaining 设置剩余调用次数
func WithCallsRemaining(n int) func(*model.User) {
	return func(u *model.User) {
		u.APICallsRemaining = n
	}
}

// WithStatus 设置账户状态
func WithStatus(status model.UserStatus) func(*model.User) {
	return func(u *model.User) {
		u.Status = status
	}
}

// TestInvite 创建属于 owner 的未使用邀请码
func TestInvite(t *testing.T, client *redis.Client, owner string, opts ...func(*model.InviteCode)) *model.InviteCode {
	t.Helper()

	invite := &model.InviteCode{
		Code:      fmt.Sprintf("INV%05d", nextSeq()%100000),
		OwnerID:   owner,
		CreatedAt: time.Now(),
		IsActive:  true,
	}
	for _, opt := range opts {
		opt(invite)
	}

	writeHash(t, client, "invite:"+invite.Code, invite)
	if err := client.SAdd(context.Background(), "user_invites:"+owner, invite.Code).Err(); err != nil {
		t.Fatalf("Failed to index invite: %v", err)
	}
	return invite
}

// WithUsedBy 标记邀请码已被使用
func WithUsedBy(userID string) func(*model.InviteCode) {
	return func(c *model.InviteCode) {
		now := time.Now()
		c.UsedAt = &now
		c.UsedBy = userID
		c.IsActive = false
	}
}

// TestPayment 创建待支付订单
func TestPayment(t *testing.T, client *redis.Client, userID string, opts ...func(*model.PaymentRecord)) *model.PaymentRecord {
	t.Helper()

	n := nextSeq()
	rec := &model.PaymentRecord{
		ID:               fmt.Sprintf("pay-%d", n),
		UserID:           userID,
		TradeOrderID:     fmt.Sprintf("XH%d%08d", time.Now().Unix(), n),
		Amount:           decimal.NewFromInt(66),
		SubscriptionType: model.SubscriptionMonthly,
		Status:           model.PaymentPending,
		CreatedAt:        time.Now(),
	}
	for _, opt := range opts {
		opt(rec)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to marshal payment: %v", err)
	}
	ctx := context.Background()
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "payment:"+rec.ID, data, 0)
		pipe.Set(ctx, "payment:order:"+rec.TradeOrderID, rec.ID, 0)
		pipe.ZAdd(ctx, "user_payments:"+userID, &redis.Z{Score: float64(rec.CreatedAt.Unix()), Member: rec.ID})
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to write payment: %v", err)
	}
	return rec
}

// WithAmount 设置订单金额
func WithAmount(amount string) func(*model.PaymentRecord) {
	return func(p *model.PaymentRecord) {
		p.Amount = decimal.RequireFromString(amount)
	}
}

// WithPaymentStatus 设置订单状态，success 时同时设置支付时间
func WithPaymentStatus(status model.PaymentStatus) func(*model.PaymentRecord) {
	return func(p *model.PaymentRecord) {
		p.Status = status
		if status == model.PaymentSuccess {
			now := time.Now()
			p.PaidAt = &now
			p.SubscriptionApplied = true
		}
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.PaymentRecord) {
	return func(p *model.PaymentRecord) {
		p.CreatedAt = at
	}
}

// TestJob 创建排队中的分析任务
func TestJob(t *testing.T, client *redis.Client, userID string, status string) *model.AnalysisJob {
	t.Helper()

	job := &model.AnalysisJob{
		ID:        fmt.Sprintf("job-%d", nextSeq()),
		UserID:    userID,
		Tickers:   []string{"AAPL"},
		Status:    status,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Failed to marshal job: %v", err)
	}
	if err := client.Set(context.Background(), "analysis_job:"+job.ID, data, 7*24*time.Hour).Err(); err != nil {
		t.Fatalf("Failed to write job: %v", err)
	}
	return job
}
