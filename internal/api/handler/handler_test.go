package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/api/middleware"
	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/email"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/pkg/paygate"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
	"github.com/qs3c/meter_pay_server/internal/pkg/response"
	"github.com/qs3c/meter_pay_server/internal/pkg/ws"
	"github.com/qs3c/meter_pay_server/internal/repository"
	"github.com/qs3c/meter_pay_server/internal/service"
	"github.com/qs3c/meter_pay_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testAppID     = "201906120001"
	testAppSecret = "test-app-secret"
	testMchID     = "1500000001"
	testJWTSecret = "test-jwt-secret"
	testQueueName = "test_analysis_jobs"
)

// fakeProvider 模拟支付网关的下单和查询接口
type fakeProvider struct {
	mu       sync.Mutex
	server   *httptest.Server
	status   string
	totalFee string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{status: paygate.StatusPending}
	mux := http.NewServeMux()
	mux.HandleFunc("/payment/do.html", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"errcode": 0,
			"errmsg":  "success!",
			"url":     "https://pay.example.com/cashier?order=" + r.PostForm.Get("trade_order_id"),
		})
	})
	mux.HandleFunc("/payment/query.html", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		data := paygate.Params{
			"status":         p.status,
			"trade_order_id": r.PostForm.Get("trade_order_id"),
			"open_order_id":  "OPEN" + r.PostForm.Get("trade_order_id"),
			"transaction_id": "TX" + r.PostForm.Get("trade_order_id"),
			"total_fee":      p.totalFee,
		}
		p.mu.Unlock()
		data[paygate.HashField] = paygate.Sign(data, testAppSecret)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"errcode": 0, "errmsg": "success!", "data": data})
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) set(status, totalFee string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.totalFee = totalFee
}

type testEnv struct {
	ctx    context.Context
	client *redis.Client
	mr     *miniredis.Miniredis
	hook   *logtest.Hook
	router *gin.Engine

	users      *repository.UserRepository
	payments   *repository.PaymentRepository
	verifyRepo *repository.VerificationRepository
	tokens     *service.TokenService
	queue      *queue.Queue
	hub        *ws.Hub
	provider   *fakeProvider
}

// setupHandlers 用真实的 service 和 miniredis 组装所有路由
func setupHandlers(t *testing.T) *testEnv {
	t.Helper()

	client, mr := testutil.SetupTestRedis(t)
	log, hook := logtest.NewNullLogger()
	m := metrics.NewNop()
	provider := newFakeProvider(t)

	store := repository.NewStore(client)
	users := repository.NewUserRepository(store)
	invitesRepo := repository.NewInviteRepository(store)
	payments := repository.NewPaymentRepository(store)
	sessions := repository.NewSessionRepository(store)
	verifyRepo := repository.NewVerificationRepository(store)
	jobs := repository.NewJobRepository(store)

	paymentCfg := &config.PaymentConfig{
		AppID:          testAppID,
		AppSecret:      testAppSecret,
		MchID:          testMchID,
		APIURL:         provider.server.URL + "/payment/do.html",
		QueryURL:       provider.server.URL + "/payment/query.html",
		NotifyURL:      "http://localhost/api/v1/payment/notify",
		Type:           "WAP",
		TimeoutSeconds: 2,
		Plans: map[string]config.PlanConfig{
			"monthly": {Title: "月度会员", Price: 99, FirstPrice: 66},
			"yearly":  {Title: "年度会员", Price: 999, FirstPrice: 699},
		},
	}

	invites := service.NewInviteService(invitesRepo, users, log)
	credentials := service.NewCredentialService(users, verifyRepo, invitesRepo, sessions, invites, log)
	verifications := service.NewVerificationService(verifyRepo, m)
	entitlement := service.NewEntitlementService(users, m, log)
	tokens := service.NewTokenService(users, sessions, testJWTSecret, 30*24*time.Hour, 24*time.Hour, log)
	checker := service.NewSubscriptionChecker(users, m, log)
	q := queue.NewQueue(client, testQueueName)
	payment := service.NewPaymentService(payments, users, entitlement, checker, paygate.New(*paymentCfg), nil, paymentCfg, m, log)
	auth := service.NewAuthService(credentials, verifications, invites, tokens, email.NewSender(&config.EmailConfig{}, log), "AI股票分析", log)
	user := service.NewUserService(credentials, invites, entitlement, checker)
	analysis := service.NewAnalysisService(jobs, users, entitlement, checker, q, log)
	hub := ws.NewHub(log)

	authHandler := NewAuthHandler(auth)
	userHandler := NewUserHandler(user)
	paymentHandler := NewPaymentHandler(payment, log)
	analysisHandler := NewAnalysisHandler(analysis)
	wsHandler := NewWebSocketHandler(hub, tokens, nil, log)

	router := gin.New()
	authRequired := middleware.Auth(tokens)
	api := router.Group("/api/v1")
	api.GET("/ws", wsHandler.Handle)
	router.GET("/healthz", NewHealthHandler(client, nil, hub).Check)
	api.POST("/auth/send-code", authHandler.SendCode)
	api.POST("/auth/verify-email", authHandler.VerifyEmail)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/forgot-password", authHandler.ForgotPassword)
	api.POST("/auth/reset-password", authHandler.ResetPassword)
	api.POST("/auth/logout", authRequired, authHandler.Logout)
	api.GET("/user/profile", authRequired, userHandler.GetProfile)
	api.GET("/user/usage", authRequired, userHandler.GetUsage)
	api.POST("/user/invite-codes", authRequired, userHandler.GenerateInviteCodes)
	api.POST("/payment/create", authRequired, paymentHandler.Create)
	api.GET("/payment/query/:trade_order_id", authRequired, paymentHandler.Query)
	api.GET("/payment/records", authRequired, paymentHandler.Records)
	api.POST("/payment/notify", paymentHandler.Notify)
	api.POST("/analyses/run", authRequired, analysisHandler.Run)
	api.GET("/analyses/jobs/:id", authRequired, analysisHandler.GetJob)

	return &testEnv{
		ctx:        context.Background(),
		client:     client,
		mr:         mr,
		hook:       hook,
		router:     router,
		users:      users,
		payments:   payments,
		verifyRepo: verifyRepo,
		tokens:     tokens,
		queue:      q,
		hub:        hub,
		provider:   provider,
	}
}

// tokenFor 为测试用户签发 token
func (e *testEnv) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.tokens.Issue(e.ctx, userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) issuedCode(t *testing.T, purpose model.VerificationPurpose, addr string) string {
	t.Helper()
	v, err := e.verifyRepo.Get(e.ctx, purpose, addr)
	require.NoError(t, err)
	return v.Code
}

func (e *testEnv) reloadUser(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := e.users.GetByID(e.ctx, id)
	require.NoError(t, err)
	return u
}

func performRequest(r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func performForm(r http.Handler, path string, form string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

// decodeData 将响应 data 解到目标结构
func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, response.CodeSuccess, envelope.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}
