package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/crmbridge/internal/config"
	"github.com/huangang/crmbridge/pkg/logger"
)

const (
	TaskTypeWebhookDispatch = "webhook:dispatch"
	webhookQueue            = "webhooks"
)

// WebhookTask is one verified contact webhook waiting for dispatch.
type WebhookTask struct {
	ObjectID         string    `json:"object_id"`
	PortalID         string    `json:"portal_id"`
	EventID          string    `json:"event_id,omitempty"`
	SubscriptionType string    `json:"subscription_type,omitempty"`
	PropertyName     string    `json:"property_name,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

// WebhookProcessor runs a webhook task to completion.
type WebhookProcessor func(context.Context, *WebhookTask) error

// TaskQueue defines the interface for webhook task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, task *WebhookTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// NewTaskQueue returns an asynq-backed queue when Redis is enabled and
// reachable, and a synchronous queue otherwise.
func NewTaskQueue(cfg *config.RedisConfig, processor WebhookProcessor) TaskQueue {
	if !cfg.Enabled {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
		return NewSyncQueue(processor)
	}
	queue, err := NewAsyncQueue(cfg)
	if err != nil {
		logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
		return NewSyncQueue(processor)
	}
	logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
	return queue
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}
	return &AsyncQueue{client: client}, nil
}

// Enqueue never retries: a failed dispatch is logged and dropped.
func (q *AsyncQueue) Enqueue(ctx context.Context, task *WebhookTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(webhookQueue),
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
	}
	if task.EventID != "" {
		opts = append(opts, asynq.TaskID(fmt.Sprintf("%s:%s:%s", task.PortalID, task.ObjectID, task.EventID)))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeWebhookDispatch, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// redelivery of an event that is already queued
		logger.Infof("[AsyncQueue] Duplicate event %s for object %s ignored", task.EventID, task.ObjectID)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, object=%s", info.ID, info.Queue, task.ObjectID)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue processes tasks inline in the caller's goroutine.
type SyncQueue struct {
	processor WebhookProcessor
}

func NewSyncQueue(processor WebhookProcessor) *SyncQueue {
	return &SyncQueue{processor: processor}
}

func (q *SyncQueue) Enqueue(ctx context.Context, task *WebhookTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, task for object %s dropped", task.ObjectID)
		return nil
	}
	return q.processor(ctx, task)
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	return nil
}
