// Package queue 基于 Redis list 的分析任务队列：LPUSH 入队，BRPOP 出队，先进先出
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrEmptyJobID = errors.New("job message without job id")

// JobMessage 分析任务消息，完整状态以 analysis_job:{id} 为准
type JobMessage struct {
	JobID          string   `json:"job_id"`
	UserID         string   `json:"user_id"`
	Tickers        []string `json:"tickers"`
	SelectedAgents []string `json:"selected_agents,omitempty"`
	ModelName      string   `json:"model_name,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
}

type Queue struct {
	client *redis.Client
	name   string
}

func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) Name() string {
	return q.name
}

// Push 入队，没有 job id 的消息直接拒绝
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	if msg.JobID == "" {
		return ErrEmptyJobID
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", msg.JobID, err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", q.name, err)
	}
	return nil
}

// Pop 阻塞等待至多 timeout，没有任务时返回 nil, nil
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", q.name, err)
	}
	// BRPOP 返回 [key, value]
	if len(result) != 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode job from %s: %w", q.name, err)
	}
	return &msg, nil
}

// Length 排队中的任务数
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
