package handlers

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/huangang/crmbridge/internal/services"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/huangang/crmbridge/pkg/response"
)

// errorStatus maps a sentinel to its HTTP status. detail exposes the wrapped
// message, which never carries tokens or upstream bodies for these kinds.
var errorStatus = []struct {
	err    error
	status int
	detail bool
}{
	{services.ErrInvalidRequest, http.StatusBadRequest, true},
	{services.ErrInvalidUsername, http.StatusBadRequest, false},
	{services.ErrInvalidPassword, http.StatusBadRequest, false},
	{services.ErrMalformedWebhookPayload, http.StatusBadRequest, true},

	{services.ErrInvalidCredentials, http.StatusUnauthorized, false},
	{services.ErrInvalidRefreshToken, http.StatusUnauthorized, false},
	{services.ErrTokenExpired, http.StatusUnauthorized, false},
	{services.ErrTokenInvalid, http.StatusUnauthorized, false},
	{services.ErrTokenVerificationFailed, http.StatusUnauthorized, false},
	{services.ErrMissingSignature, http.StatusUnauthorized, false},
	{services.ErrUnsupportedSignatureVersion, http.StatusUnauthorized, false},
	{services.ErrSignatureMismatch, http.StatusUnauthorized, false},

	{services.ErrForbidden, http.StatusForbidden, false},

	{services.ErrCredentialNotFound, http.StatusNotFound, false},
	{services.ErrUserNotFound, http.StatusNotFound, false},

	{services.ErrUserExists, http.StatusConflict, false},

	{services.ErrTokenResponseIncomplete, http.StatusBadGateway, false},
	{services.ErrTokenExchangeFailed, http.StatusBadGateway, false},
	{services.ErrTokenRefreshFailed, http.StatusBadGateway, false},
	{services.ErrCRMRequestFailed, http.StatusBadGateway, false},
	{services.ErrDownstreamFailed, http.StatusBadGateway, false},
}

// toAppError converts err into the response envelope error. The second
// result is false for errors outside the taxonomy.
func toAppError(err error) (*response.AppError, bool) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			msg := m.err.Error()
			if m.detail {
				msg = err.Error()
			}
			return response.New(m.status, services.ErrorCode(err), msg), true
		}
	}
	return response.New(http.StatusInternalServerError, services.ErrorCode(err), "internal server error"), false
}

func respondError(c *gin.Context, err error) {
	appErr, known := toAppError(err)

	event := logger.Warn()
	if appErr.HTTPStatus >= 500 {
		event = logger.Error()
	}
	event.Err(err).
		Str("path", c.Request.URL.Path).
		Str("error_code", appErr.ErrorCode).
		Str("request_id", c.GetString(logger.ContextRequestID)).
		Msg("request failed")

	if !known || appErr.HTTPStatus >= 500 {
		sentry.CaptureException(err)
	}
	response.Error(c, appErr)
}

func bindError(c *gin.Context, err error) {
	response.BadRequest(c, "INVALID_REQUEST", "invalid request body: "+err.Error())
}
