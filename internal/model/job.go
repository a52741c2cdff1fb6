package model

import (
	"encoding/json"
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// AnalysisJob 分析任务，存储在 analysis_job:{id}
type AnalysisJob struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Tickers        []string        `json:"tickers"`
	SelectedAgents []string        `json:"selected_agents,omitempty"`
	ModelName      string          `json:"model_name,omitempty"`
	StartDate      string          `json:"start_date,omitempty"`
	EndDate        string          `json:"end_date,omitempty"`
	Status         string          `json:"status"`
	CurrentStep    string          `json:"current_step,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ElapsedSeconds int             `json:"elapsed_seconds,omitempty"`
}

// Finished 已结束的任务不再变更
func (j *AnalysisJob) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
