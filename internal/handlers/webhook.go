package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/crmbridge/internal/services"
	"github.com/huangang/crmbridge/internal/services/webhook"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/huangang/crmbridge/pkg/response"
)

const maxWebhookBody = 1 << 20

// EventDispatcher is satisfied by *webhook.Dispatcher.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *webhook.Event) (*webhook.DispatchResult, error)
}

type WebhookHandler struct {
	verifier   *webhook.Verifier
	dispatcher EventDispatcher
	queue      services.TaskQueue
}

func NewWebhookHandler(verifier *webhook.Verifier, dispatcher EventDispatcher, queue services.TaskQueue) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, dispatcher: dispatcher, queue: queue}
}

// ContactOwnerChange handles the CRM workflow webhook
// POST /webhook/contactownerchange
func (h *WebhookHandler) ContactOwnerChange(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "INVALID_REQUEST", "failed to read request body")
		return
	}

	// signature covers the raw bytes, so it is checked before any parsing
	if err := h.verifier.ValidateSignature(c.Request.Header, body); err != nil {
		logger.Warn().Err(err).Str("ip", c.ClientIP()).Msg("webhook signature rejected")
		respondError(c, err)
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.queue != nil && h.queue.IsAsync() {
		task := event.Task()
		task.ReceivedAt = time.Now()
		if err := h.queue.Enqueue(c.Request.Context(), task); err != nil {
			respondError(c, err)
			return
		}
		response.Accepted(c, gin.H{"object_id": task.ObjectID, "portal_id": task.PortalID, "queued": true})
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
