package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/huangang/crmbridge/internal/config"
	"github.com/huangang/crmbridge/internal/models"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cipher encrypts tokens at rest. *utils.TokenCipher implements it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// DecryptedCredential is a credential record with both tokens in plaintext.
type DecryptedCredential struct {
	Username     string     `json:"username"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RefreshedAt  *time.Time `json:"refreshed_at"`
	Expired      bool       `json:"expired"`
}

// CredentialStatus describes a credential without exposing any token.
type CredentialStatus struct {
	Username    string     `json:"username"`
	ExpiresIn   int64      `json:"expires_in"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Expired     bool       `json:"expired"`
	RefreshedAt *time.Time `json:"refreshed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

type refreshResult struct {
	record      *models.CredentialRecord
	accessToken string
}

// TokenManager owns the CRM OAuth lifecycle: code exchange, refresh and
// lazy renewal of expired access tokens.
type TokenManager struct {
	store  *CredentialStore
	cipher Cipher
	client OAuthClient
	oauth  config.OAuthConfig
	flight singleflight.Group
	log    zerolog.Logger
}

func NewTokenManager(store *CredentialStore, cipher Cipher, client OAuthClient, oauthCfg config.OAuthConfig) *TokenManager {
	return &TokenManager{
		store:  store,
		cipher: cipher,
		client: client,
		oauth:  oauthCfg,
		log:    logger.Component("token_manager"),
	}
}

// AuthorizeURL builds the CRM consent URL. state round-trips to the callback.
func (m *TokenManager) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", m.oauth.ClientID)
	q.Set("redirect_uri", m.oauth.RedirectURI)
	q.Set("scope", m.oauth.Scopes)
	if state != "" {
		q.Set("state", state)
	}
	return m.oauth.AuthorizeURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code for a token pair and stores it
// encrypted under username.
func (m *TokenManager) ExchangeCode(ctx context.Context, code, username string) (*models.CredentialRecord, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code is required", ErrInvalidRequest)
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	resp, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		m.log.Warn().Err(err).Str("username", username).Msg("code exchange failed")
		return nil, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: access_token, refresh_token and expires_in are required", ErrTokenResponseIncomplete)
	}

	encAccess, err := m.encrypt(resp.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh, err := m.encrypt(resp.RefreshToken)
	if err != nil {
		return nil, err
	}

	rec, err := m.store.CreateOrUpdate(ctx, username, encAccess, encRefresh, resp.ExpiresIn)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("username", username).Int64("expires_in", resp.ExpiresIn).Msg("credential stored")
	return rec, nil
}

// Refresh renews the access token for username. Concurrent calls for the
// same username share one upstream request.
func (m *TokenManager) Refresh(ctx context.Context, username string) (*models.CredentialRecord, error) {
	res, err := m.refresh(ctx, username)
	if err != nil {
		return nil, err
	}
	return res.record, nil
}

func (m *TokenManager) refresh(ctx context.Context, username string) (*refreshResult, error) {
	ch := m.flight.DoChan(username, func() (interface{}, error) {
		// the shared call must outlive any single caller's cancellation
		return m.doRefresh(context.WithoutCancel(ctx), username)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*refreshResult), nil
	}
}

func (m *TokenManager) doRefresh(ctx context.Context, username string) (*refreshResult, error) {
	rec, err := m.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.decrypt(rec.RefreshToken)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		m.log.Warn().Err(err).Str("username", username).Msg("token refresh failed")
		return nil, err
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: access_token and expires_in are required", ErrTokenResponseIncomplete)
	}

	encAccess, err := m.encrypt(resp.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh := rec.RefreshToken
	if resp.RefreshToken != "" {
		if encRefresh, err = m.encrypt(resp.RefreshToken); err != nil {
			return nil, err
		}
	}

	updated, err := m.store.UpdateTokens(ctx, rec, encAccess, encRefresh, resp.ExpiresIn)
	if err != nil {
		return nil, err
	}
	m.log.Info().
		Str("username", username).
		Bool("refresh_token_rotated", resp.RefreshToken != "").
		Int64("expires_in", resp.ExpiresIn).
		Msg("token refreshed")
	return &refreshResult{record: updated, accessToken: resp.AccessToken}, nil
}

// GetValidAccessToken returns a plaintext access token, refreshing first
// when the stored one has expired.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, username string) (string, error) {
	rec, err := m.store.FindByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if m.store.IsExpired(rec) {
		m.log.Debug().Str("username", username).Time("expired_at", rec.ExpiresAt()).Msg("access token expired, refreshing")
		res, err := m.refresh(ctx, username)
		if err != nil {
			return "", err
		}
		return res.accessToken, nil
	}

	return m.decrypt(rec.AccessToken)
}

// GetDecrypted returns the stored pair in plaintext. It never refreshes.
func (m *TokenManager) GetDecrypted(ctx context.Context, username string) (*DecryptedCredential, error) {
	rec, err := m.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	access, err := m.decrypt(rec.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := m.decrypt(rec.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &DecryptedCredential{
		Username:     rec.Username,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    rec.ExpiresIn,
		IssuedAt:     rec.IssuedAt(),
		ExpiresAt:    rec.ExpiresAt(),
		RefreshedAt:  rec.RefreshedAt,
		Expired:      m.store.IsExpired(rec),
	}, nil
}

func (m *TokenManager) Status(ctx context.Context, username string) (*CredentialStatus, error) {
	rec, err := m.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return &CredentialStatus{
		Username:    rec.Username,
		ExpiresIn:   rec.ExpiresIn,
		ExpiresAt:   rec.ExpiresAt(),
		Expired:     m.store.IsExpired(rec),
		RefreshedAt: rec.RefreshedAt,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func (m *TokenManager) encrypt(plaintext string) (string, error) {
	if m.cipher == nil {
		return "", ErrEncryptionConfig
	}
	return m.cipher.Encrypt(plaintext)
}

func (m *TokenManager) decrypt(ciphertext string) (string, error) {
	if m.cipher == nil {
		return "", ErrEncryptionConfig
	}
	return m.cipher.Decrypt(ciphertext)
}
