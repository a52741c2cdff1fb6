package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
)

const popTimeout = 5 * time.Second

// JobSource 任务来源
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
}

// JobProcessor 处理单个任务
type JobProcessor interface {
	Process(ctx context.Context, msg *queue.JobMessage) error
}

// Runner 并发消费队列
type Runner struct {
	source     JobSource
	processor  JobProcessor
	workers    int
	popTimeout time.Duration
	log        logrus.FieldLogger
}

func NewRunner(source JobSource, processor JobProcessor, workers int, log logrus.FieldLogger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		source:     source,
		processor:  processor,
		workers:    workers,
		popTimeout: popTimeout,
		log:        log,
	}
}

// Run 启动 workers 个消费协程，直到 ctx 取消
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		workerID := i
		g.Go(func() error {
			r.loop(ctx, workerID)
			return nil
		})
	}
	r.log.WithField("workers", r.workers).Info("worker started")
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, workerID int) {
	logger := r.log.WithField("worker", workerID)
	for {
		if ctx.Err() != nil {
			logger.Info("worker shutting down")
			return
		}

		msg, err := r.source.Pop(ctx, r.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("failed to pop job")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		if err := r.processor.Process(ctx, msg); err != nil {
			logger.WithField("job_id", msg.JobID).WithError(err).Warn("job processing returned error")
		}
	}
}
