package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/model/dto"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
	"github.com/qs3c/meter_pay_server/internal/repository"
)

// JobQueue 分析任务队列
type JobQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

// AnalysisService 发起分析任务并扣减一次 API 调用
type AnalysisService struct {
	jobs        *repository.JobRepository
	users       *repository.UserRepository
	entitlement *EntitlementService
	checker     *SubscriptionChecker
	queue       JobQueue
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewAnalysisService(
	jobs *repository.JobRepository,
	users *repository.UserRepository,
	entitlement *EntitlementService,
	checker *SubscriptionChecker,
	q JobQueue,
	log logrus.FieldLogger,
) *AnalysisService {
	return &AnalysisService{
		jobs:        jobs,
		users:       users,
		entitlement: entitlement,
		checker:     checker,
		queue:       q,
		log:         log,
		now:         time.Now,
	}
}

// RunAnalysis 创建分析任务
func (s *AnalysisService) RunAnalysis(ctx context.Context, userID string, req *dto.RunAnalysisRequest) (*dto.RunAnalysisResponse, error) {
	if _, err := s.checker.CheckOne(ctx, userID); err != nil {
		return nil, err
	}
	allowed, err := s.entitlement.ConsumeAPICall(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrQuotaExhausted
	}

	job := &model.AnalysisJob{
		ID:             uuid.NewString(),
		UserID:         userID,
		Tickers:        req.Tickers,
		SelectedAgents: req.SelectedAgents,
		ModelName:      req.ModelName,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Status:         model.JobStatusQueued,
		CreatedAt:      s.now(),
	}
	logger := s.log.WithFields(logrus.Fields{"user_id": userID, "job_id": job.ID})

	if err := s.jobs.Create(ctx, job); err != nil {
		s.refund(ctx, userID, logger)
		return nil, err
	}

	err = s.queue.Push(ctx, &queue.JobMessage{
		JobID:          job.ID,
		UserID:         userID,
		Tickers:        job.Tickers,
		SelectedAgents: job.SelectedAgents,
		ModelName:      job.ModelName,
		StartDate:      job.StartDate,
		EndDate:        job.EndDate,
	})
	if err != nil {
		logger.WithError(err).Error("enqueue analysis job failed")
		if _, uerr := s.jobs.Update(ctx, job.ID, func(j *model.AnalysisJob) error {
			now := s.now()
			j.Status = model.JobStatusFailed
			j.ErrorMessage = "任务入队失败"
			j.CompletedAt = &now
			return nil
		}); uerr != nil {
			logger.WithError(uerr).Warn("mark job failed")
		}
		s.refund(ctx, userID, logger)
		return nil, err
	}

	usage, err := s.entitlement.Usage(ctx, userID)
	if err != nil {
		return nil, err
	}
	logger.WithField("tickers", job.Tickers).Info("analysis job queued")

	return &dto.RunAnalysisResponse{
		JobID:          job.ID,
		Status:         job.Status,
		CallsRemaining: usage.CallsRemaining,
	}, nil
}

// refund 任务未能入队时退还试用次数，付费用户没有扣减次数
func (s *AnalysisService) refund(ctx context.Context, userID string, logger logrus.FieldLogger) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user.SubscriptionType != model.SubscriptionTrial {
		return
	}
	if _, err := s.entitlement.GrantTrialCalls(ctx, userID, 1); err != nil {
		logger.WithError(err).Warn("refund api call failed")
	}
}

// GetJob 查询任务状态，只能查看自己的任务
func (s *AnalysisService) GetJob(ctx context.Context, userID, jobID string) (*dto.JobStatusResponse, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return toJobStatus(job), nil
}
