package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/huangang/crmbridge/internal/config"
	"github.com/huangang/crmbridge/internal/models"
	"github.com/huangang/crmbridge/internal/repository"
	"github.com/huangang/crmbridge/internal/services"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/rs/zerolog"
)

// AccountResolver maps a CRM portal id to its application user.
type AccountResolver interface {
	FindByAccountID(ctx context.Context, accountID string) (*models.User, error)
}

// AccessTokenSource hands out valid CRM access tokens. *services.TokenManager implements it.
type AccessTokenSource interface {
	GetValidAccessToken(ctx context.Context, username string) (string, error)
}

// ContactFetcher reads contact properties. *services.HubSpotClient implements it.
type ContactFetcher interface {
	GetContact(ctx context.Context, accessToken, objectID string, properties []string) (map[string]string, error)
}

type DispatchResult struct {
	ObjectID string `json:"object_id"`
	PortalID string `json:"portal_id"`
	Username string `json:"username"`
}

// Dispatcher turns a verified event into one downstream POST.
type Dispatcher struct {
	accounts   AccountResolver
	tokens     AccessTokenSource
	contacts   ContactFetcher
	cfg        config.WebhookConfig
	properties []string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewDispatcher(accounts AccountResolver, tokens AccessTokenSource, contacts ContactFetcher, webhookCfg config.WebhookConfig, crmCfg config.CRMConfig) *Dispatcher {
	return &Dispatcher{
		accounts:   accounts,
		tokens:     tokens,
		contacts:   contacts,
		cfg:        webhookCfg,
		properties: mergeProperties(crmCfg.ContactProperties, webhookCfg.FieldAProperty, webhookCfg.FieldBProperty),
		httpClient: &http.Client{Timeout: webhookCfg.HTTPTimeout()},
		log:        logger.Component("webhook"),
	}
}

// Dispatch is never retried; every failure is final for the event.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) (*DispatchResult, error) {
	objectID, portalID := event.ObjectID.String(), event.PortalID.String()
	if objectID == "" || portalID == "" {
		return nil, fmt.Errorf("%w: objectId and portalId are required", services.ErrMalformedWebhookPayload)
	}

	user, err := d.accounts.FindByAccountID(ctx, portalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: no user for portal %s", services.ErrCredentialNotFound, portalID)
	}
	if err != nil {
		return nil, err
	}

	accessToken, err := d.tokens.GetValidAccessToken(ctx, user.Username)
	if err != nil {
		return nil, err
	}

	props, err := d.contacts.GetContact(ctx, accessToken, objectID, d.properties)
	if err != nil {
		return nil, err
	}
	if props == nil {
		return nil, fmt.Errorf("%w: contact %s has no properties", services.ErrMalformedWebhookPayload, objectID)
	}

	payload := map[string]string{
		d.cfg.FieldAKey: props[d.cfg.FieldAProperty],
		d.cfg.FieldBKey: props[d.cfg.FieldBProperty],
	}
	if err := d.postDownstream(ctx, payload); err != nil {
		d.log.Error().Err(err).Str("object_id", objectID).Str("portal_id", portalID).Msg("downstream delivery failed")
		return nil, err
	}

	d.log.Info().
		Str("object_id", objectID).
		Str("portal_id", portalID).
		Str("username", user.Username).
		Str("subscription_type", event.SubscriptionType).
		Msg("webhook dispatched")
	return &DispatchResult{ObjectID: objectID, PortalID: portalID, Username: user.Username}, nil
}

// ProcessTask adapts Dispatch to the task queue.
func (d *Dispatcher) ProcessTask(ctx context.Context, task *services.WebhookTask) error {
	_, err := d.Dispatch(ctx, EventFromTask(task))
	return err
}

func (d *Dispatcher) postDownstream(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.DownstreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrDownstreamFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrDownstreamFailed, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &services.UpstreamError{Kind: services.ErrDownstreamFailed, Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func mergeProperties(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, p := range append(append([]string(nil), base...), extra...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
