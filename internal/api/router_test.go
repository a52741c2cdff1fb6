package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/api/handler"
	"github.com/qs3c/meter_pay_server/internal/pkg/email"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/pkg/paygate"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
	"github.com/qs3c/meter_pay_server/internal/pkg/ws"
	"github.com/qs3c/meter_pay_server/internal/repository"
	"github.com/qs3c/meter_pay_server/internal/service"
	"github.com/qs3c/meter_pay_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()

	client, _ := testutil.SetupTestRedis(t)
	log, _ := logtest.NewNullLogger()
	m := metrics.NewNop()
	cfg := &config.Config{
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		Payment: config.PaymentConfig{AppID: "app", AppSecret: "secret"},
	}
	cfg.Normalize()

	store := repository.NewStore(client)
	users := repository.NewUserRepository(store)
	invitesRepo := repository.NewInviteRepository(store)
	sessions := repository.NewSessionRepository(store)
	verifyRepo := repository.NewVerificationRepository(store)

	invites := service.NewInviteService(invitesRepo, users, log)
	credentials := service.NewCredentialService(users, verifyRepo, invitesRepo, sessions, invites, log)
	entitlement := service.NewEntitlementService(users, m, log)
	tokens := service.NewTokenService(users, sessions, "jwt-secret", time.Hour, time.Hour, log)
	checker := service.NewSubscriptionChecker(users, m, log)
	payment := service.NewPaymentService(repository.NewPaymentRepository(store), users, entitlement, checker,
		paygate.New(cfg.Payment), nil, &cfg.Payment, m, log)
	auth := service.NewAuthService(credentials, service.NewVerificationService(verifyRepo, m), invites, tokens,
		email.NewSender(&cfg.Email, log), cfg.Email.SiteName, log)
	analysis := service.NewAnalysisService(repository.NewJobRepository(store), users, entitlement, checker,
		queue.NewQueue(client, cfg.Queue.AnalysisQueue), log)

	hub := ws.NewHub(log)
	r := NewRouter(
		handler.NewAuthHandler(auth),
		handler.NewUserHandler(service.NewUserService(credentials, invites, entitlement, checker)),
		handler.NewPaymentHandler(payment, log),
		handler.NewAnalysisHandler(analysis),
		handler.NewWebSocketHandler(hub, tokens, cfg.CORS.AllowedOrigins, log),
		handler.NewHealthHandler(client, nil, hub),
		tokens,
		m,
		log,
		cfg,
	)
	return r.Setup()
}

func TestRouter_Routes(t *testing.T) {
	engine := setupRouter(t)

	registered := map[string]bool{}
	for _, route := range engine.Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/auth/send-code",
		"POST /api/v1/auth/verify-email",
		"POST /api/v1/auth/register",
		"POST /api/v1/auth/login",
		"POST /api/v1/auth/forgot-password",
		"POST /api/v1/auth/reset-password",
		"POST /api/v1/auth/logout",
		"GET /api/v1/user/profile",
		"GET /api/v1/user/usage",
		"POST /api/v1/user/invite-codes",
		"POST /api/v1/payment/create",
		"GET /api/v1/payment/query/:trade_order_id",
		"GET /api/v1/payment/records",
		"POST /api/v1/payment/notify",
		"POST /api/v1/analyses/run",
		"GET /api/v1/analyses/jobs/:id",
		"GET /api/v1/ws",
		"GET /metrics",
		"GET /healthz",
	} {
		assert.True(t, registered[want], want)
	}
}

func TestRouter_AuthBoundaries(t *testing.T) {
	engine := setupRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/user/profile", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/payment/create", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/analyses/run", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/auth/logout", http.StatusUnauthorized},
		// 回调不需要认证，缺字段时返回 fail
		{http.MethodPost, "/api/v1/payment/notify", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, w.Code, tt.method+" "+tt.path)
	}
}

func TestRouter_Metrics(t *testing.T) {
	engine := setupRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payment/notify", strings.NewReader("")))
	assert.Equal(t, "fail", w.Body.String())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `meterpay_webhook_events_total{outcome="rejected",status=""} 1`)
}

func TestRouter_CORSPreflight(t *testing.T) {
	engine := setupRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
