package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/crmbridge/internal/models"
	"github.com/huangang/crmbridge/internal/repository"
	"github.com/huangang/crmbridge/internal/utils"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/rs/zerolog"
)

const minPasswordLen = 6

type AuthService struct {
	users     repository.UserRepository
	signer    *utils.SessionSigner
	maxTokens int
	tokenTTL  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewAuthService keeps at most maxTokens live refresh tokens per user, each
// valid for tokenTTL.
func NewAuthService(users repository.UserRepository, signer *utils.SessionSigner, maxTokens int, tokenTTL time.Duration) *AuthService {
	if maxTokens <= 0 {
		maxTokens = 5
	}
	return &AuthService{
		users:     users,
		signer:    signer,
		maxTokens: maxTokens,
		tokenTTL:  tokenTTL,
		now:       time.Now,
		log:       logger.Component("auth"),
	}
}

// WithClock overrides the service's time source.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

type SignupRequest struct {
	Username      string `json:"username" binding:"required"`
	Password      string `json:"password" binding:"required"`
	UserAccountID string `json:"user_account_id" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest accepts both snake and camel case field names.
type RefreshRequest struct {
	RefreshToken      string `json:"refresh_token"`
	RefreshTokenCamel string `json:"refreshToken"`
}

func (r RefreshRequest) Token() string {
	if r.RefreshToken != "" {
		return r.RefreshToken
	}
	return r.RefreshTokenCamel
}

type AuthResult struct {
	User   *models.User     `json:"user"`
	Tokens *utils.TokenPair `json:"tokens"`
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) (*AuthResult, error) {
	username := normalizeUsername(req.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLen || len(req.Password) > utils.MaxPasswordBytes {
		return nil, ErrInvalidPassword
	}
	accountID := strings.TrimSpace(req.UserAccountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: user_account_id is required", ErrInvalidRequest)
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:      username,
		Password:      hash,
		UserAccountID: &accountID,
		IsActive:      true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	tokens, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("username", username).Str("account_id", accountID).Msg("user signed up")
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Login never touches last_login when authentication fails.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResult, error) {
	username := normalizeUsername(req.Username)
	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive || !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLogin = &now

	s.log.Info().Str("username", username).Msg("user logged in")
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Refresh rotates a refresh token. callerUserID is the authenticated user
// making the request, or 0 when the request carries no access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, callerUserID uint) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrInvalidRequest)
	}

	claims, err := s.signer.VerifyType(refreshToken, utils.TokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	oldHash := utils.HashToken(refreshToken)
	user, err := s.users.FindByRefreshToken(ctx, oldHash, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	if user.ID != claims.UserID {
		return nil, ErrInvalidRefreshToken
	}
	if callerUserID != 0 && callerUserID != user.ID {
		s.log.Warn().Uint("caller_id", callerUserID).Uint("owner_id", user.ID).Msg("refresh token presented by another user")
		return nil, ErrForbidden
	}

	tokens, err := s.signer.IssuePair(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	next := s.refreshEntry(user.ID, tokens.RefreshToken)
	if err := s.users.RotateRefreshToken(ctx, user.ID, oldHash, next, s.maxTokens); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Logout drops one refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, userID uint, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: refresh token is required", ErrInvalidRequest)
	}
	err := s.users.RemoveRefreshToken(ctx, userID, utils.HashToken(refreshToken))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// PruneExpiredTokens deletes every expired refresh token.
func (s *AuthService) PruneExpiredTokens(ctx context.Context) (int64, error) {
	return s.users.PruneExpiredRefreshTokens(ctx, s.now())
}

func (s *AuthService) issue(ctx context.Context, user *models.User) (*utils.TokenPair, error) {
	tokens, err := s.signer.IssuePair(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.users.AddRefreshToken(ctx, user.ID, s.refreshEntry(user.ID, tokens.RefreshToken), s.maxTokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *AuthService) refreshEntry(userID uint, token string) models.SessionRefreshToken {
	now := s.now()
	return models.SessionRefreshToken{
		UserID:    userID,
		TokenHash: utils.HashToken(token),
		ExpiresAt: now.Add(s.tokenTTL),
		CreatedAt: now,
	}
}
