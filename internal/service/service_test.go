package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/pkg/paygate"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
	"github.com/qs3c/meter_pay_server/internal/repository"
	"github.com/qs3c/meter_pay_server/internal/testutil"
)

const (
	testAppID     = "201906120001"
	testMchID     = "1500000001"
	testAppSecret = "test-app-secret"
	testJWTSecret = "test-jwt-secret"
)

type fakeGateway struct {
	mu          sync.Mutex
	payURL      string
	payErr      error
	queryResult *paygate.QueryResult
	queryErr    error
	orders      []paygate.Order
	queries     []string
}

func (g *fakeGateway) AppID() string { return testAppID }
func (g *fakeGateway) MchID() string { return testMchID }

func (g *fakeGateway) Verify(params paygate.Params) bool {
	return paygate.Verify(params, testAppSecret)
}

func (g *fakeGateway) Pay(ctx context.Context, order paygate.Order) (*paygate.PayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, order)
	if g.payErr != nil {
		return nil, g.payErr
	}
	return &paygate.PayResult{URL: g.payURL + "?order=" + order.TradeOrderID}, nil
}

func (g *fakeGateway) Query(ctx context.Context, tradeOrderID string) (*paygate.QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, tradeOrderID)
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	res := *g.queryResult
	res.TradeOrderID = tradeOrderID
	return &res, nil
}

type sentMail struct {
	to      string
	subject string
	html    string
}

type fakeMailer struct {
	mu   sync.Mutex
	fail bool
	sent []sentMail
}

func (m *fakeMailer) Send(to, subject, html string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, html: html})
	return true
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeQueue struct {
	mu   sync.Mutex
	err  error
	msgs []*queue.JobMessage
}

func (q *fakeQueue) Push(ctx context.Context, msg *queue.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

type testEnv struct {
	ctx     context.Context
	client  *redis.Client
	mr      *miniredis.Miniredis
	log     *logrus.Logger
	hook    *logtest.Hook
	metrics *metrics.Metrics

	users         *repository.UserRepository
	invitesRepo   *repository.InviteRepository
	payments      *repository.PaymentRepository
	sessions      *repository.SessionRepository
	verifyRepo    *repository.VerificationRepository
	jobs          *repository.JobRepository
	audit         *repository.PaymentAuditRepository
	paymentConfig *config.PaymentConfig

	credentials   *CredentialService
	verifications *VerificationService
	invites       *InviteService
	entitlement   *EntitlementService
	tokens        *TokenService
	checker       *SubscriptionChecker
	payment       *PaymentService
	auth          *AuthService
	user          *UserService
	analysis      *AnalysisService

	gateway *fakeGateway
	mailer  *fakeMailer
	queue   *fakeQueue
}

func setupServices(t *testing.T) *testEnv {
	t.Helper()

	client, mr := testutil.SetupTestRedis(t)
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	m := metrics.NewNop()

	store := repository.NewStore(client)
	env := &testEnv{
		ctx:         context.Background(),
		client:      client,
		mr:          mr,
		log:         log,
		hook:        hook,
		metrics:     m,
		users:       repository.NewUserRepository(store),
		invitesRepo: repository.NewInviteRepository(store),
		payments:    repository.NewPaymentRepository(store),
		sessions:    repository.NewSessionRepository(store),
		verifyRepo:  repository.NewVerificationRepository(store),
		jobs:        repository.NewJobRepository(store),
		audit:       repository.NewPaymentAuditRepository(testutil.SetupTestDB(t)),
		paymentConfig: &config.PaymentConfig{
			AppID:     testAppID,
			AppSecret: testAppSecret,
			MchID:     testMchID,
			Plans: map[string]config.PlanConfig{
				"monthly": {Title: "月度会员", Price: 99, FirstPrice: 66},
				"yearly":  {Price: 999, FirstPrice: 699},
			},
		},
		gateway: &fakeGateway{
			payURL:      "https://pay.example.com/cashier",
			queryResult: &paygate.QueryResult{Status: paygate.StatusPending},
		},
		mailer: &fakeMailer{},
		queue:  &fakeQueue{},
	}

	env.invites = NewInviteService(env.invitesRepo, env.users, log)
	env.credentials = NewCredentialService(env.users, env.verifyRepo, env.invitesRepo, env.sessions, env.invites, log)
	env.verifications = NewVerificationService(env.verifyRepo, m)
	env.entitlement = NewEntitlementService(env.users, m, log)
	env.tokens = NewTokenService(env.users, env.sessions, testJWTSecret, 30*24*time.Hour, 24*time.Hour, log)
	env.checker = NewSubscriptionChecker(env.users, m, log)
	env.payment = NewPaymentService(env.payments, env.users, env.entitlement, env.checker, env.gateway, env.audit, env.paymentConfig, m, log)
	env.auth = NewAuthService(env.credentials, env.verifications, env.invites, env.tokens, env.mailer, "AI股票分析", log)
	env.user = NewUserService(env.credentials, env.invites, env.entitlement, env.checker)
	env.analysis = NewAnalysisService(env.jobs, env.users, env.entitlement, env.checker, env.queue, log)
	return env
}

// reloadUser 直接读取存储中的最新用户记录
func (e *testEnv) reloadUser(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := e.users.GetByID(e.ctx, id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) reloadPayment(t *testing.T, id string) *model.PaymentRecord {
	t.Helper()
	rec, err := e.payments.GetByID(e.ctx, id)
	require.NoError(t, err)
	return rec
}

// issuedCode 读取已下发的验证码
func (e *testEnv) issuedCode(t *testing.T, purpose model.VerificationPurpose, email string) string {
	t.Helper()
	v, err := e.verifyRepo.Get(e.ctx, purpose, email)
	require.NoError(t, err)
	return v.Code
}

// notifyParams 构造带签名的网关回调
func notifyParams(rec *model.PaymentRecord, status, totalFee string) paygate.Params {
	params := paygate.Params{
		"trade_order_id": rec.TradeOrderID,
		"total_fee":      totalFee,
		"transaction_id": "4200001234" + rec.ID,
		"open_order_id":  "20190612" + rec.ID,
		"order_title":    "月度会员",
		"status":         status,
		"nonce_str":      "a1b2c3d4e5",
		"time":           strconv.FormatInt(time.Now().Unix(), 10),
		"appid":          testAppID,
		"mchid":          testMchID,
		"payment_method": "wechat",
	}
	params[paygate.HashField] = paygate.Sign(params, testAppSecret)
	return params
}

func hasLogMessage(hook *logtest.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
