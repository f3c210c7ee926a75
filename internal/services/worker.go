package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/crmbridge/internal/config"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/rs/zerolog"
)

const workerConcurrency = 10

// Worker consumes webhook dispatch tasks from Redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor WebhookProcessor
	log       zerolog.Logger
	mu        sync.Mutex
	running   bool
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, processor WebhookProcessor) *Worker {
	if !cfg.Enabled {
		return nil
	}

	log := logger.Component("worker")
	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: workerConcurrency,
			Queues:      map[string]int{webhookQueue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				log.Error().Err(err).Str("task_id", id).Str("type", task.Type()).Msg("webhook dispatch failed")
			}),
		},
	)

	w := &Worker{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: processor,
		log:       log,
	}
	w.mux.HandleFunc(TaskTypeWebhookDispatch, w.handleWebhookTask)
	return w
}

// Start begins consuming in background goroutines and returns immediately.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	w.log.Info().Int("concurrency", workerConcurrency).Str("queue", webhookQueue).Msg("worker started")
	return nil
}

// Stop waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.server.Shutdown()
	w.running = false
	w.log.Info().Msg("worker stopped")
}

func (w *Worker) handleWebhookTask(ctx context.Context, t *asynq.Task) error {
	return processWebhookPayload(ctx, t.Payload(), w.processor)
}

func processWebhookPayload(ctx context.Context, payload []byte, processor WebhookProcessor) error {
	var task WebhookTask
	if err := json.Unmarshal(payload, &task); err != nil {
		// malformed payloads can never succeed
		return fmt.Errorf("unmarshal webhook task: %v: %w", err, asynq.SkipRetry)
	}

	logger.Debug().Str("object_id", task.ObjectID).Str("portal_id", task.PortalID).Msg("[Worker] processing webhook task")

	if processor == nil {
		logger.Warnf("[Worker] No processor set, task for object %s dropped", task.ObjectID)
		return nil
	}
	return processor(ctx, &task)
}
