package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/wolfman30/converse-ai-platform/internal/config"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyValidSignature(t *testing.T) {
	v := NewVerifier("topsecret", config.VerificationStrict)
	body := []byte(`{"type":"message"}`)

	if err := v.Verify(body, sign("topsecret", body)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := v.Verify(body, "sha256="+sign("topsecret", body)); err != nil {
		t.Fatalf("expected prefixed signature to verify, got %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	v := NewVerifier("topsecret", config.VerificationStrict)
	sig := sign("topsecret", []byte(`{"amount":10}`))

	err := v.Verify([]byte(`{"amount":9999}`), sig)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	v := NewVerifier("topsecret", config.VerificationStrict)
	if err := v.Verify([]byte("x"), ""); !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("expected ErrSignatureMissing, got %v", err)
	}
}

func TestAdmitPolicies(t *testing.T) {
	body := []byte(`{}`)
	good := sign("s", body)

	tests := []struct {
		name       string
		secret     string
		policy     config.VerificationPolicy
		sig        string
		wantReject bool
		wantErr    bool
	}{
		{"strict valid", "s", config.VerificationStrict, good, false, false},
		{"strict invalid", "s", config.VerificationStrict, "deadbeef", true, true},
		{"strict no secret", "", config.VerificationStrict, good, true, true},
		{"log only invalid", "s", config.VerificationLogOnly, "deadbeef", false, true},
		{"permissive no secret", "", config.VerificationPermissiveIfUnconfigured, "", false, true},
		{"permissive invalid with secret", "s", config.VerificationPermissiveIfUnconfigured, "deadbeef", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.secret, tt.policy)
			reject, err := v.Admit(body, tt.sig)
			if reject != tt.wantReject {
				t.Errorf("reject = %v, want %v", reject, tt.wantReject)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
