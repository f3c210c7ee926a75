package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/crmbridge/internal/models"
	"github.com/huangang/crmbridge/internal/utils"
	"github.com/huangang/crmbridge/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// TokenVerifier is satisfied by *utils.SessionSigner.
type TokenVerifier interface {
	VerifyType(token, tokenType string) (*utils.Claims, error)
}

// UserLookup confirms the token owner still exists and is active.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
}

// AuthRequired is a middleware that checks for a valid access token.
// users may be nil to skip the active-user check.
func AuthRequired(verifier TokenVerifier, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, response.NewUnauthorized("TOKEN_REQUIRED", "Access token required"))
			return
		}

		claims, err := verifier.VerifyType(token, utils.TokenTypeAccess)
		if err != nil {
			response.Abort(c, tokenError(err))
			return
		}

		if users != nil {
			user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
			if err != nil || !user.IsActive {
				response.Abort(c, response.NewUnauthorized("TOKEN_INVALID", "Invalid token"))
				return
			}
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

// OptionalAuth sets the user when a valid access token is present and
// otherwise lets the request through untouched. A bearer that fails
// verification leaves the request anonymous (GetUserID returns 0), so a
// present Authorization header is not an enforced caller identity.
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if claims, err := verifier.VerifyType(token, utils.TokenTypeAccess); err == nil {
				c.Set(ContextUserID, claims.UserID)
				c.Set(ContextUsername, claims.Username)
			}
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func tokenError(err error) *response.AppError {
	switch {
	case errors.Is(err, utils.ErrTokenExpired):
		return response.NewUnauthorized("TOKEN_EXPIRED", "Token has expired")
	case errors.Is(err, utils.ErrTokenInvalid):
		return response.NewUnauthorized("TOKEN_INVALID", "Invalid token")
	default:
		return response.NewUnauthorized("TOKEN_VERIFICATION_FAILED", "Token verification failed")
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

// GetUsername gets the current username from context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		return username.(string)
	}
	return ""
}
