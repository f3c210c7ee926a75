package services

import (
	"errors"
	"fmt"

	"github.com/huangang/crmbridge/internal/config"
	"github.com/huangang/crmbridge/internal/utils"
)

var (
	ErrConfigIncomplete = config.ErrConfigIncomplete
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidUsername  = errors.New("username must be 3-50 characters")
	ErrInvalidPassword  = errors.New("password must be 6 to 72 bytes long")

	ErrCredentialNotFound      = errors.New("credential not found")
	ErrTokenResponseIncomplete = errors.New("token response incomplete")
	ErrTokenExchangeFailed     = errors.New("token exchange failed")
	ErrTokenRefreshFailed      = errors.New("token refresh failed")
	ErrCRMRequestFailed        = errors.New("crm request failed")

	ErrEncryptionConfig  = utils.ErrEncryptionConfig
	ErrEncryptionFailure = utils.ErrEncryptionFailure
	ErrDecryptionFailure = utils.ErrDecryptionFailure

	ErrTokenExpired            = utils.ErrTokenExpired
	ErrTokenInvalid            = utils.ErrTokenInvalid
	ErrTokenVerificationFailed = utils.ErrTokenVerificationFailed

	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrForbidden           = errors.New("you are not allowed to refresh this token")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrUserExists          = errors.New("username already exists")
	ErrUserNotFound        = errors.New("user not found")

	ErrMissingSignature            = errors.New("missing webhook signature")
	ErrUnsupportedSignatureVersion = errors.New("unsupported webhook signature version")
	ErrSignatureMismatch           = errors.New("webhook signature mismatch")
	ErrMalformedWebhookPayload     = errors.New("malformed webhook payload")
	ErrDownstreamFailed            = errors.New("downstream webhook failed")
)

// UpstreamError is a non-2xx answer from the CRM or the downstream webhook.
type UpstreamError struct {
	Kind   error
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Kind }

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrConfigIncomplete, "CONFIG_INCOMPLETE"},
	{ErrInvalidRequest, "INVALID_REQUEST"},
	{ErrInvalidUsername, "INVALID_REQUEST"},
	{ErrInvalidPassword, "INVALID_REQUEST"},
	{ErrCredentialNotFound, "CREDENTIAL_NOT_FOUND"},
	{ErrTokenResponseIncomplete, "TOKEN_RESPONSE_INCOMPLETE"},
	{ErrTokenExchangeFailed, "TOKEN_EXCHANGE_FAILED"},
	{ErrTokenRefreshFailed, "TOKEN_REFRESH_FAILED"},
	{ErrCRMRequestFailed, "CRM_REQUEST_FAILED"},
	{ErrEncryptionConfig, "ENCRYPTION_FAILURE"},
	{ErrEncryptionFailure, "ENCRYPTION_FAILURE"},
	{ErrDecryptionFailure, "DECRYPTION_FAILURE"},
	{ErrTokenExpired, "TOKEN_EXPIRED"},
	{ErrTokenInvalid, "TOKEN_INVALID"},
	{ErrTokenVerificationFailed, "TOKEN_VERIFICATION_FAILED"},
	{ErrInvalidRefreshToken, "INVALID_REFRESH_TOKEN"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrUserExists, "USER_EXISTS"},
	{ErrUserNotFound, "USER_NOT_FOUND"},
	{ErrMissingSignature, "MISSING_SIGNATURE"},
	{ErrUnsupportedSignatureVersion, "UNSUPPORTED_SIGNATURE_VERSION"},
	{ErrSignatureMismatch, "SIGNATURE_MISMATCH"},
	{ErrMalformedWebhookPayload, "MALFORMED_WEBHOOK_PAYLOAD"},
	{ErrDownstreamFailed, "DOWNSTREAM_FAILED"},
}

// ErrorCode returns the stable machine-readable code for err, or
// INTERNAL_ERROR when err is not part of the taxonomy.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}
