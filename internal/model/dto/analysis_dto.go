package dto

import (
	"encoding/json"
	"time"
)

// RunAnalysisRequest 发起分析
type RunAnalysisRequest struct {
	Tickers        []string `json:"tickers" binding:"required,min=1,max=20,dive,required,max=16"`
	SelectedAgents []string `json:"selected_agents,omitempty" binding:"omitempty,max=20"`
	ModelName      string   `json:"model_name,omitempty" binding:"omitempty,max=64"`
	StartDate      string   `json:"start_date,omitempty" binding:"omitempty,datetime=2006-01-02"`
	EndDate        string   `json:"end_date,omitempty" binding:"omitempty,datetime=2006-01-02"`
}

// RunAnalysisResponse 任务已入队
type RunAnalysisResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	CallsRemaining int    `json:"calls_remaining"`
}

// JobStatusResponse 任务状态
type JobStatusResponse struct {
	JobID          string          `json:"job_id"`
	Status         string          `json:"status"`
	CurrentStep    string          `json:"current_step,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ElapsedSeconds int             `json:"elapsed_seconds,omitempty"`
}
