package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/huangang/crmbridge/internal/config"
)

func TestTaskTypeWebhookDispatch_Constant(t *testing.T) {
	if TaskTypeWebhookDispatch != "webhook:dispatch" {
		t.Errorf("TaskTypeWebhookDispatch = %q, expected %q", TaskTypeWebhookDispatch, "webhook:dispatch")
	}
}

func TestNewTaskQueue_RedisDisabled(t *testing.T) {
	q := NewTaskQueue(&config.RedisConfig{Enabled: false}, nil)
	if q.IsAsync() {
		t.Error("queue should be sync when Redis is disabled")
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if w := NewWorker(&config.RedisConfig{Enabled: false}, nil); w != nil {
		t.Error("NewWorker() should return nil when Redis is disabled")
	}
}

func TestSyncQueue_RunsInline(t *testing.T) {
	var got *WebhookTask
	boom := errors.New("boom")
	q := NewSyncQueue(func(_ context.Context, task *WebhookTask) error {
		got = task
		return boom
	})

	err := q.Enqueue(context.Background(), &WebhookTask{ObjectID: "42", PortalID: "99"})
	if !errors.Is(err, boom) {
		t.Errorf("Enqueue() error = %v, expected processor error", err)
	}
	if got == nil || got.ObjectID != "42" {
		t.Errorf("processor received %+v", got)
	}

	if err := NewSyncQueue(nil).Enqueue(context.Background(), &WebhookTask{}); err != nil {
		t.Errorf("Enqueue() without processor error = %v, expected nil", err)
	}
}

func TestProcessWebhookPayload(t *testing.T) {
	payload, _ := json.Marshal(&WebhookTask{ObjectID: "42", PortalID: "99"})

	var seen string
	err := processWebhookPayload(context.Background(), payload, func(_ context.Context, task *WebhookTask) error {
		seen = task.ObjectID
		return nil
	})
	if err != nil || seen != "42" {
		t.Errorf("processWebhookPayload() = %v, seen %q", err, seen)
	}

	err = processWebhookPayload(context.Background(), []byte("{"), nil)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload error = %v, expected SkipRetry", err)
	}
}
