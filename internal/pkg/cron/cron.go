package cron

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/pkg/metrics"
	"github.com/qs3c/meter_pay_server/internal/service"
)

// Sweeper 一次完整的过期订阅扫描
type Sweeper interface {
	SweepExpired(ctx context.Context) (*service.SweepResult, error)
}

// Service 后台过期订阅扫描：启动后立即扫描一次，之后按 interval 循环。
// 扫描失败后等待 retryDelay 再继续
type Service struct {
	sweeper    Sweeper
	interval   time.Duration
	retryDelay time.Duration
	metrics    *metrics.Metrics
	log        logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(sweeper Sweeper, interval, retryDelay time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *Service {
	return &Service{
		sweeper:    sweeper,
		interval:   interval,
		retryDelay: retryDelay,
		metrics:    m,
		log:        log.WithField("component", "expiry_sweeper"),
	}
}

// Start 启动扫描协程，重复调用无效
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	s.log.WithFields(logrus.Fields{
		"interval":    s.interval.String(),
		"retry_delay": s.retryDelay.String(),
	}).Info("expiry sweeper started")
}

// Stop 取消扫描并等待协程退出
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	s.log.Info("expiry sweeper stopped")
}

// Done 扫描协程退出后关闭
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := s.interval
		if _, err := s.RunNow(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = s.retryDelay
		}
		timer.Reset(wait)
	}
}

// RunNow 立即执行一次扫描（手动触发或测试）
func (s *Service) RunNow(ctx context.Context) (*service.SweepResult, error) {
	start := time.Now()
	result, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.metrics.SweepRuns.WithLabelValues("error").Inc()
		s.log.WithError(err).Error("expiry sweep failed")
		return nil, err
	}

	s.metrics.SweepRuns.WithLabelValues("ok").Inc()
	s.log.WithFields(logrus.Fields{
		"scanned": result.Scanned,
		"demoted": result.Demoted,
		"elapsed": time.Since(start).String(),
	}).Info("expiry sweep completed")
	return result, nil
}
