package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/api/handler"
	"github.com/qs3c/meter_pay_server/internal/api/middleware"
	"github.com/qs3c/meter_pay_server/internal/pkg/logger"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
)

type Router struct {
	authHandler      *handler.AuthHandler
	userHandler      *handler.UserHandler
	paymentHandler   *handler.PaymentHandler
	analysisHandler  *handler.AnalysisHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	tokens           middleware.TokenResolver
	metrics          *metrics.Metrics
	log              logrus.FieldLogger
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	paymentHandler *handler.PaymentHandler,
	analysisHandler *handler.AnalysisHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	tokens middleware.TokenResolver,
	m *metrics.Metrics,
	log logrus.FieldLogger,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		userHandler:      userHandler,
		paymentHandler:   paymentHandler,
		analysisHandler:  analysisHandler,
		websocketHandler: websocketHandler,
		healthHandler:    healthHandler,
		tokens:           tokens,
		metrics:          m,
		log:              log,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinLogger(r.log))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", r.healthHandler.Check)
	engine.GET("/metrics", r.metrics.Handler())

	authRequired := middleware.Auth(r.tokens)

	api := engine.Group("/api/v1")
	{
		// WebSocket，token 通过查询参数传递
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/send-code", r.authHandler.SendCode)
			auth.POST("/verify-email", r.authHandler.VerifyEmail)
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/forgot-password", r.authHandler.ForgotPassword)
			auth.POST("/reset-password", r.authHandler.ResetPassword)
			auth.POST("/logout", authRequired, r.authHandler.Logout)
		}

		// 用户
		user := api.Group("/user", authRequired)
		{
			user.GET("/profile", r.userHandler.GetProfile)
			user.GET("/usage", r.userHandler.GetUsage)
			user.POST("/invite-codes", r.userHandler.GenerateInviteCodes)
		}

		// 支付，回调由网关发起，不需要认证
		payment := api.Group("/payment")
		{
			payment.POST("/notify", r.paymentHandler.Notify)
			payment.POST("/create", authRequired, r.paymentHandler.Create)
			payment.GET("/query/:trade_order_id", authRequired, r.paymentHandler.Query)
			payment.GET("/records", authRequired, r.paymentHandler.Records)
		}

		// 分析
		analyses := api.Group("/analyses", authRequired)
		{
			analyses.POST("/run", r.analysisHandler.Run)
			analyses.GET("/jobs/:id", r.analysisHandler.GetJob)
		}
	}

	return engine
}
