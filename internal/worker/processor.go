package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/pkg/pubsub"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

// ProgressPublisher 进度推送
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// Processor 任务处理器
type Processor struct {
	jobs      *repository.JobRepository
	pipeline  Pipeline
	publisher ProgressPublisher
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewProcessor(jobs *repository.JobRepository, pipeline Pipeline, publisher ProgressPublisher, log logrus.FieldLogger) *Processor {
	return &Processor{
		jobs:      jobs,
		pipeline:  pipeline,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Process 处理分析任务，已结束的任务直接跳过
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	logger := p.log.WithFields(logrus.Fields{"job_id": msg.JobID, "user_id": msg.UserID})

	job, err := p.jobs.Update(ctx, msg.JobID, func(j *model.AnalysisJob) error {
		if j.Status != model.JobStatusQueued {
			return repository.ErrNoChange
		}
		now := p.now()
		j.Status = model.JobStatusProcessing
		j.StartedAt = &now
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("job expired or missing, skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if job.Status != model.JobStatusProcessing {
		logger.WithField("status", job.Status).Info("job already handled, skipped")
		return nil
	}

	publish := func(step, status, errMsg string) {
		err := p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			UserID: msg.UserID,
			JobID:  msg.JobID,
			Status: status,
			Step:   step,
			Error:  errMsg,
		})
		if err != nil {
			logger.WithError(err).Warn("publish progress failed")
		}
	}

	currentStep := ""
	onStep := func(step string) {
		currentStep = step
		if err := p.jobs.UpdateStep(ctx, msg.JobID, pubsub.StepMessages[step]); err != nil {
			logger.WithError(err).Warn("update job step failed")
		}
		publish(step, model.JobStatusProcessing, "")
	}

	logger.WithField("tickers", msg.Tickers).Info("job started")
	result, runErr := p.pipeline.Run(ctx, msg, onStep)

	job, err = p.jobs.Update(ctx, msg.JobID, func(j *model.AnalysisJob) error {
		now := p.now()
		j.CompletedAt = &now
		if j.StartedAt != nil {
			j.ElapsedSeconds = int(now.Sub(*j.StartedAt).Seconds())
		}
		if runErr != nil {
			j.Status = model.JobStatusFailed
			j.ErrorMessage = runErr.Error()
			return nil
		}
		j.Status = model.JobStatusCompleted
		j.CurrentStep = pubsub.StepMessages[pubsub.StepDone]
		j.Result = result
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	if runErr != nil {
		publish(currentStep, model.JobStatusFailed, runErr.Error())
		logger.WithError(runErr).Error("job failed")
		return runErr
	}
	publish(pubsub.StepDone, model.JobStatusCompleted, "")
	logger.WithField("elapsed_seconds", job.ElapsedSeconds).Info("job completed")
	return nil
}
