package webhook

import (
	"errors"
	"testing"

	"github.com/huangang/crmbridge/internal/services"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantObject string
		wantPortal string
		wantErr    bool
	}{
		{"string ids", `[{"objectId":"42","portalId":"99"}]`, "42", "99", false},
		{"numeric ids", `[{"objectId":42,"portalId":99,"eventId":7}]`, "42", "99", false},
		{"first element only", `[{"objectId":1,"portalId":2},{"objectId":3,"portalId":4}]`, "1", "2", false},
		{"not an array", `{"objectId":42,"portalId":99}`, "", "", true},
		{"empty array", `[]`, "", "", true},
		{"missing object id", `[{"portalId":99}]`, "", "", true},
		{"missing portal id", `[{"objectId":42}]`, "", "", true},
		{"null portal id", `[{"objectId":42,"portalId":null}]`, "", "", true},
		{"boolean id", `[{"objectId":true,"portalId":99}]`, "", "", true},
		{"invalid json", `[{`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, services.ErrMalformedWebhookPayload) {
					t.Errorf("ParseEvent() error = %v, expected ErrMalformedWebhookPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if event.ObjectID.String() != tt.wantObject {
				t.Errorf("ObjectID = %q, expected %q", event.ObjectID, tt.wantObject)
			}
			if event.PortalID.String() != tt.wantPortal {
				t.Errorf("PortalID = %q, expected %q", event.PortalID, tt.wantPortal)
			}
		})
	}
}

func TestEventTaskRoundTrip(t *testing.T) {
	event, err := ParseEvent([]byte(`[{"objectId":42,"portalId":"99","eventId":5,"subscriptionType":"contact.propertyChange","propertyName":"hubspot_owner_id"}]`))
	if err != nil {
		t.Fatal(err)
	}
	back := EventFromTask(event.Task())
	if back.ObjectID != "42" || back.PortalID != "99" || back.EventID != "5" {
		t.Errorf("round trip lost ids: %+v", back)
	}
	if back.PropertyName != "hubspot_owner_id" {
		t.Errorf("PropertyName = %q, expected %q", back.PropertyName, "hubspot_owner_id")
	}
}
