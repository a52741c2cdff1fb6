package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/api"
	"github.com/qs3c/meter_pay_server/internal/api/handler"
	"github.com/qs3c/meter_pay_server/internal/database"
	"github.com/qs3c/meter_pay_server/internal/pkg/cron"
	"github.com/qs3c/meter_pay_server/internal/pkg/email"
	"github.com/qs3c/meter_pay_server/internal/pkg/logger"
	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/pkg/paygate"
	"github.com/qs3c/meter_pay_server/internal/pkg/pubsub"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
	"github.com/qs3c/meter_pay_server/internal/pkg/ws"
	"github.com/qs3c/meter_pay_server/internal/repository"
	"github.com/qs3c/meter_pay_server/internal/service"
)

const shutdownTimeout = 10 * time.Second

var configPath = flag.String("config", "config.yaml", "Path to config file")

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("server shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	log.Info("redis connected")

	// 支付审计库（可选）
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect audit database: %w", err)
	}
	var audit service.PaymentAuditor
	if db != nil {
		audit = repository.NewPaymentAuditRepository(db)
		log.Info("payment audit database connected")
	} else {
		log.Info("payment audit database disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 初始化 Repository
	store := repository.NewStore(rdb)
	userRepo := repository.NewUserRepository(store)
	inviteRepo := repository.NewInviteRepository(store)
	paymentRepo := repository.NewPaymentRepository(store)
	sessionRepo := repository.NewSessionRepository(store)
	verificationRepo := repository.NewVerificationRepository(store)
	jobRepo := repository.NewJobRepository(store)

	// 初始化 Service
	inviteService := service.NewInviteService(inviteRepo, userRepo, log)
	credentialService := service.NewCredentialService(userRepo, verificationRepo, inviteRepo, sessionRepo, inviteService, log)
	verificationService := service.NewVerificationService(verificationRepo, m)
	entitlementService := service.NewEntitlementService(userRepo, m, log)
	tokenService := service.NewTokenService(userRepo, sessionRepo, cfg.JWT.Secret, cfg.JWT.TokenTTL(), cfg.JWT.SessionTTL(), log)
	checker := service.NewSubscriptionChecker(userRepo, m, log)
	paymentService := service.NewPaymentService(paymentRepo, userRepo, entitlementService, checker,
		paygate.New(cfg.Payment), audit, &cfg.Payment, m, log)
	authService := service.NewAuthService(credentialService, verificationService, inviteService, tokenService,
		email.NewSender(&cfg.Email, log), cfg.Email.SiteName, log)
	userService := service.NewUserService(credentialService, inviteService, entitlementService, checker)
	analysisService := service.NewAnalysisService(jobRepo, userRepo, entitlementService, checker,
		queue.NewQueue(rdb, cfg.Queue.AnalysisQueue), log)

	hub := ws.NewHub(log)

	// 初始化 Router
	router := api.NewRouter(
		handler.NewAuthHandler(authService),
		handler.NewUserHandler(userService),
		handler.NewPaymentHandler(paymentService, log),
		handler.NewAnalysisHandler(analysisService),
		handler.NewWebSocketHandler(hub, tokenService, cfg.CORS.AllowedOrigins, log),
		handler.NewHealthHandler(rdb, db, hub),
		tokenService,
		m,
		log,
		cfg,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// 过期订阅扫描
	sweeper := cron.NewService(checker, cfg.Sweeper.Interval(), cfg.Sweeper.RetryDelay(), m, log)
	g.Go(func() error {
		sweeper.Start(ctx)
		<-ctx.Done()
		sweeper.Stop()
		return nil
	})

	// worker 进度转发到 WebSocket
	subscriber := pubsub.NewSubscriber(rdb)
	g.Go(func() error {
		err := subscriber.Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
			if !hub.IsOnline(msg.UserID) {
				log.WithFields(logrus.Fields{"job_id": msg.JobID, "user_id": msg.UserID}).Debug("user offline, progress not forwarded")
				return
			}
			if err := hub.SendToUser(msg.UserID, &ws.Message{Type: msg.Type, Data: msg}); err != nil {
				log.WithField("job_id", msg.JobID).WithError(err).Warn("forward progress failed")
			}
		})
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("progress subscriber: %w", err)
		}
		return nil
	})

	return g.Wait()
}
