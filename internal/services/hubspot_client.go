package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/huangang/crmbridge/internal/config"
)

const maxUpstreamBody = 1 << 20

// OAuthTokenResponse is the CRM token endpoint answer.
type OAuthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// OAuthClient performs the two grants against the CRM token endpoint.
type OAuthClient interface {
	ExchangeCode(ctx context.Context, code string) (*OAuthTokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*OAuthTokenResponse, error)
}

// HubSpotClient talks to the HubSpot OAuth and CRM v3 APIs.
type HubSpotClient struct {
	oauth      config.OAuthConfig
	baseURL    string
	httpClient *http.Client
}

func NewHubSpotClient(oauthCfg config.OAuthConfig, crmCfg config.CRMConfig) *HubSpotClient {
	return &HubSpotClient{
		oauth:      oauthCfg,
		baseURL:    strings.TrimSuffix(crmCfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: crmCfg.HTTPTimeout()},
	}
}

func (c *HubSpotClient) ExchangeCode(ctx context.Context, code string) (*OAuthTokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
		"redirect_uri":  {c.oauth.RedirectURI},
		"code":          {code},
	}
	return c.postToken(ctx, form, ErrTokenExchangeFailed)
}

func (c *HubSpotClient) RefreshToken(ctx context.Context, refreshToken string) (*OAuthTokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
		"redirect_uri":  {c.oauth.RedirectURI},
		"refresh_token": {refreshToken},
	}
	return c.postToken(ctx, form, ErrTokenRefreshFailed)
}

func (c *HubSpotClient) postToken(ctx context.Context, form url.Values, kind error) (*OAuthTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kind, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Kind: kind, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var out OAuthTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTokenResponseIncomplete, err)
	}
	return &out, nil
}

type contactResponse struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
}

// GetContact fetches the named properties of one contact. Null properties are
// omitted; a contact without a properties object yields a nil map.
func (c *HubSpotClient) GetContact(ctx context.Context, accessToken, objectID string, properties []string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/crm/v3/objects/contacts/%s", c.baseURL, url.PathEscape(objectID))
	if len(properties) > 0 {
		endpoint += "?" + url.Values{"properties": {strings.Join(properties, ",")}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCRMRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCRMRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrCRMRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Kind: ErrCRMRequestFailed, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var contact contactResponse
	if err := json.Unmarshal(body, &contact); err != nil {
		return nil, fmt.Errorf("%w: decode contact: %v", ErrCRMRequestFailed, err)
	}

	if contact.Properties == nil {
		return nil, nil
	}
	props := make(map[string]string, len(contact.Properties))
	for k, v := range contact.Properties {
		if v != nil {
			props[k] = *v
		}
	}
	return props, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
