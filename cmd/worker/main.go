package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/database"
	"github.com/qs3c/meter_pay_server/internal/pkg/logger"
	"github.com/qs3c/meter_pay_server/internal/pkg/pubsub"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
	"github.com/qs3c/meter_pay_server/internal/repository"
	"github.com/qs3c/meter_pay_server/internal/worker"
)

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
		log.WithError(err).Fatal("worker exited")
	}
	log.Info("worker shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	log.Info("redis connected")

	if cfg.Pipeline.Endpoint == "" {
		log.Warn("pipeline endpoint not configured, jobs will fail")
	}

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)
	jobRepo := repository.NewJobRepository(repository.NewStore(rdb))

	processor := worker.NewProcessor(jobRepo, worker.NewHTTPPipeline(cfg.Pipeline), publisher, log)
	runner := worker.NewRunner(jobQueue, processor, cfg.Queue.MaxWorkers, log)

	// 监听退出信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pending, err := jobQueue.Length(ctx)
	if err != nil {
		return fmt.Errorf("read queue length: %w", err)
	}
	log.WithFields(logrus.Fields{
		"queue":       jobQueue.Name(),
		"pending":     pending,
		"max_workers": cfg.Queue.MaxWorkers,
	}).Info("consuming analysis queue")
	return runner.Run(ctx)
}
