package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/huangang/crmbridge/internal/services"
)

func sign(secret string, body []byte) string {
	sum := sha256.Sum256(append([]byte(secret), body...))
	return hex.EncodeToString(sum[:])
}

func TestValidateSignature(t *testing.T) {
	secret := "client-secret"
	body := []byte(`[{"objectId":"42","portalId":"99"}]`)
	good := sign(secret, body)

	tests := []struct {
		name    string
		headers map[string]string
		body    []byte
		wantErr error
	}{
		{
			name:    "valid",
			headers: map[string]string{"x-signature-version": "v1", "x-signature": good},
			body:    body,
		},
		{
			name:    "valid with vendor prefixed headers",
			headers: map[string]string{"X-HubSpot-Signature-Version": "v1", "X-HubSpot-Signature": good},
			body:    body,
		},
		{
			name:    "uppercase hex accepted",
			headers: map[string]string{"x-signature-version": "v1", "x-signature": strings.ToUpper(good)},
			body:    body,
		},
		{
			name:    "missing version",
			headers: map[string]string{"x-signature": good},
			body:    body,
			wantErr: services.ErrMissingSignature,
		},
		{
			name:    "unsupported version",
			headers: map[string]string{"x-signature-version": "v2", "x-signature": good},
			body:    body,
			wantErr: services.ErrUnsupportedSignatureVersion,
		},
		{
			name:    "missing signature",
			headers: map[string]string{"x-signature-version": "v1"},
			body:    body,
			wantErr: services.ErrMissingSignature,
		},
		{
			name:    "tampered body",
			headers: map[string]string{"x-signature-version": "v1", "x-signature": good},
			body:    []byte(`[{"objectId":"43","portalId":"99"}]`),
			wantErr: services.ErrSignatureMismatch,
		},
		{
			name:    "wrong secret",
			headers: map[string]string{"x-signature-version": "v1", "x-signature": sign("other", body)},
			body:    body,
			wantErr: services.ErrSignatureMismatch,
		},
	}

	v := NewVerifier(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, val := range tt.headers {
				h.Set(k, val)
			}
			err := v.ValidateSignature(h, tt.body)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSignature() error = %v, expected nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSignature() error = %v, expected %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifier_SecretIsTrimmed(t *testing.T) {
	body := []byte(`[]`)
	v := NewVerifier("  client-secret\n")
	if got, expected := v.Sign(body), sign("client-secret", body); got != expected {
		t.Errorf("Sign() = %q, expected %q", got, expected)
	}
}
