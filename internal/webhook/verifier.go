package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/wolfman30/converse-ai-platform/internal/config"
)

// SignatureHeader carries the provider's HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature-256"

var (
	ErrSignatureMissing = errors.New("webhook: missing signature header")
	ErrSignatureInvalid = errors.New("webhook: signature mismatch")
	ErrNoSecret         = errors.New("webhook: no secret configured")
)

// Verifier checks webhook signatures under an explicit policy. The policy
// is a construction-time decision, never inferred from secret presence.
type Verifier struct {
	secret []byte
	policy config.VerificationPolicy
}

func NewVerifier(secret string, policy config.VerificationPolicy) *Verifier {
	return &Verifier{secret: []byte(secret), policy: policy}
}

// Verify computes HMAC-SHA256 over the raw body and compares it in constant
// time against the signature header. The "sha256=" prefix is optional.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return ErrNoSecret
	}
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if signature == "" {
		return ErrSignatureMissing
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureInvalid
	}
	return nil
}

// Admit applies the verification policy to a raw delivery. It returns
// reject=true when the request must be refused, and a non-nil err for any
// verification failure worth logging even when admitted.
func (v *Verifier) Admit(body []byte, signature string) (reject bool, err error) {
	err = v.Verify(body, signature)
	if err == nil {
		return false, nil
	}
	switch v.policy {
	case config.VerificationLogOnly:
		return false, err
	case config.VerificationPermissiveIfUnconfigured:
		if errors.Is(err, ErrNoSecret) {
			return false, err
		}
		return true, err
	default: // strict
		return true, err
	}
}
