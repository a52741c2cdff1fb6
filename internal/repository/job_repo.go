package repository

import (
	"context"
	"time"

	"github.com/qs3c/meter_pay_server/internal/model"
)

// 任务记录保留 7 天
const jobTTL = 7 * 24 * time.Hour

func jobKey(id string) string { return "analysis_job:" + id }

type JobRepository struct {
	store *Store
}

func NewJobRepository(store *Store) *JobRepository {
	return &JobRepository{store: store}
}

func (r *JobRepository) Create(ctx context.Context, job *model.AnalysisJob) error {
	return r.store.SetJSON(ctx, jobKey(job.ID), job, jobTTL)
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	if err := r.store.GetJSON(ctx, jobKey(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) Update(ctx context.Context, id string, mutate func(*model.AnalysisJob) error) (*model.AnalysisJob, error) {
	return UpdateJSON(ctx, r.store, jobKey(id), jobTTL, mutate)
}

func (r *JobRepository) UpdateStep(ctx context.Context, id, step string) error {
	_, err := r.Update(ctx, id, func(j *model.AnalysisJob) error {
		if j.Finished() {
			return ErrNoChange
		}
		j.CurrentStep = step
		return nil
	})
	return err
}
