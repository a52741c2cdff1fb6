package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/pkg/pubsub"
	"github.com/qs3c/meter_pay_server/internal/pkg/queue"
)

const maxResultBytes = 8 << 20

var ErrPipelineNotConfigured = errors.New("analysis pipeline endpoint not configured")

// Pipeline 外部分析流水线，step 回调用于上报阶段
type Pipeline interface {
	Run(ctx context.Context, msg *queue.JobMessage, step func(string)) (json.RawMessage, error)
}

// pipelineRequest 发给流水线的请求体
type pipelineRequest struct {
	JobID          string   `json:"job_id"`
	Tickers        []string `json:"tickers"`
	SelectedAgents []string `json:"selected_agents,omitempty"`
	ModelName      string   `json:"model_name,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
}

type pipelineResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// HTTPPipeline 通过 HTTP 调用分析服务
type HTTPPipeline struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPPipeline(cfg config.PipelineConfig) *HTTPPipeline {
	return &HTTPPipeline{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

func (p *HTTPPipeline) Run(ctx context.Context, msg *queue.JobMessage, step func(string)) (json.RawMessage, error) {
	if p.endpoint == "" {
		return nil, ErrPipelineNotConfigured
	}

	step(pubsub.StepFetching)
	body, err := json.Marshal(&pipelineRequest{
		JobID:          msg.JobID,
		Tickers:        msg.Tickers,
		SelectedAgents: msg.SelectedAgents,
		ModelName:      msg.ModelName,
		StartDate:      msg.StartDate,
		EndDate:        msg.EndDate,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	step(pubsub.StepAnalyzing)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("read pipeline response: %w", err)
	}

	var out pipelineResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode pipeline response: %w", err)
	}
	if resp.StatusCode/100 != 2 || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("pipeline failed: %s", msg)
	}

	step(pubsub.StepAggregating)
	return out.Result, nil
}
