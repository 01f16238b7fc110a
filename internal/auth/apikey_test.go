package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateAdminKey(t *testing.T) {
	plaintext, key, err := GenerateAdminKey("bootstrap", nil)
	if err != nil {
		t.Fatalf("GenerateAdminKey: %v", err)
	}
	if !strings.HasPrefix(plaintext, AdminKeyPrefix) {
		t.Errorf("plaintext %q missing prefix %q", plaintext, AdminKeyPrefix)
	}
	if key.Name != "bootstrap" {
		t.Errorf("name = %q", key.Name)
	}
	if len(key.Hash) == 0 || len(key.Salt) == 0 {
		t.Error("hash or salt empty")
	}
	if key.ID == "" {
		t.Error("id empty")
	}

	prefix, err := ParseAdminKeyPrefix(plaintext)
	if err != nil {
		t.Fatalf("ParseAdminKeyPrefix: %v", err)
	}
	if prefix != key.Prefix {
		t.Errorf("prefix = %q, want %q", prefix, key.Prefix)
	}
}

func TestValidateAdminKey(t *testing.T) {
	plaintext, key, err := GenerateAdminKey("bootstrap", nil)
	if err != nil {
		t.Fatalf("GenerateAdminKey: %v", err)
	}

	if err := ValidateAdminKey(plaintext, key); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := ValidateAdminKey(plaintext+"x", key); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("tampered key error = %v, want ErrInvalidKey", err)
	}
	if err := ValidateAdminKey(plaintext, nil); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("nil stored error = %v, want ErrKeyNotFound", err)
	}

	key.Revoked = true
	if err := ValidateAdminKey(plaintext, key); !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("revoked key error = %v, want ErrKeyRevoked", err)
	}

	key.Revoked = false
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	if err := ValidateAdminKey(plaintext, key); !errors.Is(err, ErrKeyExpired) {
		t.Errorf("expired key error = %v, want ErrKeyExpired", err)
	}
}

func TestParseAdminKeyPrefixInvalid(t *testing.T) {
	tests := []string{
		"",
		"no-prefix",
		"vgk_short",
		"vgk_invalid!chars#here",
	}
	for _, key := range tests {
		if _, err := ParseAdminKeyPrefix(key); !errors.Is(err, ErrInvalidKeyFormat) {
			t.Errorf("ParseAdminKeyPrefix(%q) = %v, want ErrInvalidKeyFormat", key, err)
		}
	}
}

func TestMaskAdminKey(t *testing.T) {
	plaintext, _, err := GenerateAdminKey("bootstrap", nil)
	if err != nil {
		t.Fatalf("GenerateAdminKey: %v", err)
	}
	masked := MaskAdminKey(plaintext)
	if strings.Contains(masked, plaintext[len(AdminKeyPrefix)+4:]) {
		t.Error("mask leaks key material")
	}
	if MaskAdminKey("garbage") != "****" {
		t.Error("non-key input not fully masked")
	}
}
