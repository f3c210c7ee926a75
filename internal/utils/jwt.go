package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenIssuer   = "hubspot-integration"
	TokenAudience = "hubspot-api"

	TokenTypeAccess     = "access"
	TokenTypeRefresh    = "refresh"
	TokenTypeOAuthState = "oauth_state"
)

var (
	ErrTokenExpired            = errors.New("token has expired")
	ErrTokenInvalid            = errors.New("invalid token")
	ErrTokenVerificationFailed = errors.New("token verification failed")
	ErrSigningSecretMissing    = errors.New("jwt secret is not configured")
)

type Claims struct {
	UserID    uint   `json:"userId"`
	Username  string `json:"username"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	ExpiresIn        int64     `json:"expires_in"` // access token lifetime in seconds
}

// SessionSigner issues and verifies the application's own HS256 session tokens.
type SessionSigner struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewSessionSigner(secret string, accessTTL, refreshTTL time.Duration) (*SessionSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSigningSecretMissing
	}
	return &SessionSigner{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock overrides the signer's time source.
func (s *SessionSigner) WithClock(now func() time.Time) *SessionSigner {
	s.now = now
	return s
}

func (s *SessionSigner) AccessTTL() time.Duration { return s.accessTTL }

// IssuePair signs a fresh access and refresh token for the user.
func (s *SessionSigner) IssuePair(userID uint, username string) (*TokenPair, error) {
	now := s.now()
	access, err := s.sign(userID, username, TokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, username, TokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: now.Add(s.refreshTTL),
		ExpiresIn:        int64(s.accessTTL / time.Second),
	}, nil
}

// IssueState signs the OAuth state that binds a consent redirect to the user
// who started it.
func (s *SessionSigner) IssueState(userID uint, username string, ttl time.Duration) (string, error) {
	return s.sign(userID, username, TokenTypeOAuthState, s.now(), ttl)
}

func (s *SessionSigner) sign(userID uint, username, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:    userID,
		Username:  username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature, issuer, audience and expiry. The returned error
// is one of ErrTokenExpired, ErrTokenInvalid or ErrTokenVerificationFailed.
func (s *SessionSigner) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	return claims, nil
}

// VerifyType is Verify plus a check of the typ claim.
func (s *SessionSigner) VerifyType(tokenString, tokenType string) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return ErrTokenInvalid
	default:
		return ErrTokenVerificationFailed
	}
}
