package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/huangang/crmbridge/internal/services"
)

// ID is a webhook identifier sent either as a JSON number or a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Event is the first element of a CRM webhook delivery.
type Event struct {
	EventID          ID     `json:"eventId"`
	SubscriptionID   ID     `json:"subscriptionId"`
	PortalID         ID     `json:"portalId"`
	ObjectID         ID     `json:"objectId"`
	SubscriptionType string `json:"subscriptionType"`
	PropertyName     string `json:"propertyName"`
	PropertyValue    string `json:"propertyValue"`
	OccurredAt       int64  `json:"occurredAt"`
}

// ParseEvent decodes a delivery array and returns its first element.
// Remaining elements are ignored.
func ParseEvent(body []byte) (*Event, error) {
	var events []json.RawMessage
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON array: %v", services.ErrMalformedWebhookPayload, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty event array", services.ErrMalformedWebhookPayload)
	}

	var event Event
	if err := json.Unmarshal(events[0], &event); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrMalformedWebhookPayload, err)
	}
	if event.ObjectID == "" {
		return nil, fmt.Errorf("%w: objectId is required", services.ErrMalformedWebhookPayload)
	}
	if event.PortalID == "" {
		return nil, fmt.Errorf("%w: portalId is required", services.ErrMalformedWebhookPayload)
	}
	return &event, nil
}

// Task converts the event into a queue task.
func (e *Event) Task() *services.WebhookTask {
	return &services.WebhookTask{
		ObjectID:         e.ObjectID.String(),
		PortalID:         e.PortalID.String(),
		EventID:          e.EventID.String(),
		SubscriptionType: e.SubscriptionType,
		PropertyName:     e.PropertyName,
	}
}

// EventFromTask is the inverse of Event.Task.
func EventFromTask(t *services.WebhookTask) *Event {
	return &Event{
		ObjectID:         ID(t.ObjectID),
		PortalID:         ID(t.PortalID),
		EventID:          ID(t.EventID),
		SubscriptionType: t.SubscriptionType,
		PropertyName:     t.PropertyName,
	}
}
