package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelAnalysisProgress = "analysis_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// 进度阶段
const (
	StepFetching    = "fetching"
	StepAnalyzing   = "analyzing"
	StepAggregating = "aggregating"
	StepDone        = "done"
)

var StepProgress = map[string]int{
	StepFetching:    20,
	StepAnalyzing:   50,
	StepAggregating: 80,
	StepDone:        100,
}

var StepMessages = map[string]string{
	StepFetching:    "正在获取行情数据",
	StepAnalyzing:   "分析师正在分析",
	StepAggregating: "正在汇总投资建议",
	StepDone:        "分析完成",
}

// Fill 按阶段补全进度和消息
func (m *ProgressMessage) Fill() {
	m.Type = "job_progress"
	if m.Progress == 0 && m.Step != "" {
		if progress, ok := StepProgress[m.Step]; ok {
			m.Progress = progress
		}
	}
	if m.Message == "" && m.Step != "" {
		if message, ok := StepMessages[m.Step]; ok {
			m.Message = message
		}
	}
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Fill()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelAnalysisProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	sub := s.client.Subscribe(ctx, ChannelAnalysisProgress)
	defer sub.Close()

	// 等待订阅确认，避免之后发布的消息丢失
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue
			}

			handler(&progressMsg)
		}
	}
}
