package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/crmbridge/internal/models"
	"github.com/huangang/crmbridge/internal/repository"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
)

// CredentialStore is the write path for encrypted CRM credentials.
type CredentialStore struct {
	repo repository.CredentialRepository
	now  func() time.Time
}

func NewCredentialStore(repo repository.CredentialRepository) *CredentialStore {
	return &CredentialStore{repo: repo, now: time.Now}
}

// WithClock overrides the store's time source.
func (s *CredentialStore) WithClock(now func() time.Time) *CredentialStore {
	s.now = now
	return s
}

func (s *CredentialStore) FindByUsername(ctx context.Context, username string) (*models.CredentialRecord, error) {
	rec, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateOrUpdate upserts the single record for username and resets its issue time.
func (s *CredentialStore) CreateOrUpdate(ctx context.Context, username, encAccess, encRefresh string, expiresIn int64) (*models.CredentialRecord, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	now := s.now()
	return s.repo.Upsert(ctx, &models.CredentialRecord{
		Username:     username,
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		ExpiresIn:    expiresIn,
		RefreshedAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// UpdateTokens refreshes rec in place and resets its issue time.
func (s *CredentialStore) UpdateTokens(ctx context.Context, rec *models.CredentialRecord, encAccess, encRefresh string, expiresIn int64) (*models.CredentialRecord, error) {
	now := s.now()
	updated := *rec
	updated.AccessToken = encAccess
	updated.RefreshToken = encRefresh
	updated.ExpiresIn = expiresIn
	updated.RefreshedAt = &now
	updated.UpdatedAt = now

	if err := s.repo.Update(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, rec.Username)
		}
		return nil, err
	}
	return &updated, nil
}

// IsExpired reports now > issued_at + expires_in.
func (s *CredentialStore) IsExpired(rec *models.CredentialRecord) bool {
	return rec.ExpiredAt(s.now())
}

func validateUsername(username string) error {
	n := len([]rune(strings.TrimSpace(username)))
	if n < minUsernameLen || n > maxUsernameLen || strings.TrimSpace(username) != username {
		return ErrInvalidUsername
	}
	return nil
}
