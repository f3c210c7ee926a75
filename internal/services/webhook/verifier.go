package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/huangang/crmbridge/internal/services"
)

const SignatureVersionV1 = "v1"

// Header names are accepted with and without the vendor prefix.
var (
	versionHeaders   = []string{"X-Signature-Version", "X-HubSpot-Signature-Version"}
	signatureHeaders = []string{"X-Signature", "X-HubSpot-Signature"}
)

// Verifier checks v1 webhook signatures: hex(sha256(clientSecret + body)).
type Verifier struct {
	clientSecret string
}

func NewVerifier(clientSecret string) *Verifier {
	return &Verifier{clientSecret: strings.TrimSpace(clientSecret)}
}

// ValidateSignature must be called with the exact bytes received, before
// the body is parsed.
func (v *Verifier) ValidateSignature(header http.Header, body []byte) error {
	version := firstHeader(header, versionHeaders)
	if version == "" {
		return services.ErrMissingSignature
	}
	if version != SignatureVersionV1 {
		return services.ErrUnsupportedSignatureVersion
	}

	signature := firstHeader(header, signatureHeaders)
	if signature == "" {
		return services.ErrMissingSignature
	}

	expected := v.Sign(body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return services.ErrSignatureMismatch
	}
	return nil
}

// Sign returns the lowercase hex v1 signature of body.
func (v *Verifier) Sign(body []byte) string {
	h := sha256.New()
	h.Write([]byte(v.clientSecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func firstHeader(header http.Header, names []string) string {
	for _, name := range names {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}
