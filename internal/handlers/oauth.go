package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/crmbridge/internal/middleware"
	"github.com/huangang/crmbridge/internal/services"
	"github.com/huangang/crmbridge/internal/utils"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/huangang/crmbridge/pkg/response"
)

// oauthStateTTL bounds how long a consent redirect may take.
const oauthStateTTL = 10 * time.Minute

// StateSigner is satisfied by *utils.SessionSigner.
type StateSigner interface {
	IssueState(userID uint, username string, ttl time.Duration) (string, error)
	VerifyType(token, tokenType string) (*utils.Claims, error)
}

type OAuthHandler struct {
	tokens *services.TokenManager
	states StateSigner
	users  middleware.UserLookup
}

func NewOAuthHandler(tokens *services.TokenManager, states StateSigner, users middleware.UserLookup) *OAuthHandler {
	return &OAuthHandler{tokens: tokens, states: states, users: users}
}

// Generate returns the CRM consent URL for the current user. The state is a
// short-lived signed token naming that user.
// GET /api/oauth/generate
func (h *OAuthHandler) Generate(c *gin.Context) {
	state, err := h.states.IssueState(middleware.GetUserID(c), middleware.GetUsername(c), oauthStateTTL)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"url": h.tokens.AuthorizeURL(state)})
}

// Callback verifies the signed state and exchanges the authorization code
// for the user it names.
// GET /api/oauth/callback?code=...&state=...
func (h *OAuthHandler) Callback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		response.BadRequest(c, "INVALID_REQUEST", "authorization was not granted: "+denied)
		return
	}

	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		response.BadRequest(c, "INVALID_REQUEST", "code and state are required")
		return
	}

	claims, err := h.states.VerifyType(state, utils.TokenTypeOAuthState)
	if err != nil {
		logger.Warnf("[OAuth] Rejected callback state: %v", err)
		response.BadRequest(c, "INVALID_REQUEST", "state is invalid or expired")
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !user.IsActive || user.Username != claims.Username {
		respondError(c, services.ErrUserNotFound)
		return
	}

	rec, err := h.tokens.ExchangeCode(c.Request.Context(), code, user.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{
		"username":   rec.Username,
		"expires_in": rec.ExpiresIn,
		"expires_at": rec.ExpiresAt(),
	})
}

// Refresh forces a CRM token refresh for the current user
// POST /api/oauth/refresh
func (h *OAuthHandler) Refresh(c *gin.Context) {
	rec, err := h.tokens.Refresh(c.Request.Context(), middleware.GetUsername(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{
		"username":     rec.Username,
		"expires_in":   rec.ExpiresIn,
		"refreshed_at": rec.RefreshedAt,
	})
}

// Status reports whether the current user's CRM credential is usable
// GET /api/oauth/status
func (h *OAuthHandler) Status(c *gin.Context) {
	status, err := h.tokens.Status(c.Request.Context(), middleware.GetUsername(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, status)
}
