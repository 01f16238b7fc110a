package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const (
	// AdminKeyPrefix is the prefix for bootstrap admin API keys.
	AdminKeyPrefix = "vgk_"

	// keyPrefixLength is the number of characters used for key identification
	// without exposing the full key.
	keyPrefixLength = 8

	// keyBytes is the number of random bytes used for key generation.
	keyBytes = 32

	// Argon2id parameters (OWASP recommended for API key hashing)
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64MB
	argon2Threads = 4
	argon2KeyLen  = 32
)

var (
	// ErrInvalidKeyFormat indicates the admin key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid admin key format")

	// ErrKeyRevoked indicates the admin key has been revoked.
	ErrKeyRevoked = errors.New("admin key has been revoked")

	// ErrKeyExpired indicates the admin key has expired.
	ErrKeyExpired = errors.New("admin key has expired")

	// ErrKeyNotFound indicates no admin key is configured.
	ErrKeyNotFound = errors.New("admin key not found")

	// ErrInvalidKey indicates the admin key failed validation.
	ErrInvalidKey = errors.New("invalid admin key")
)

// AdminKey is the bootstrap credential for the admin API. It exists so the
// gateway can be configured before any identity provider is registered; a
// validated admin key carries LevelAdmin. Only the Argon2id hash is stored.
type AdminKey struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"` // First 8 chars for identification
	Name       string     `json:"name"`
	Hash       []byte     `json:"-"` // Argon2id hash of the full key (never serialized)
	Salt       []byte     `json:"-"` // Salt used for hashing (never serialized)
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // nil = no expiration
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// IsExpired returns true if the admin key has expired.
func (k *AdminKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*k.ExpiresAt)
}

// IsValid returns true if the admin key is active (not revoked and not expired).
func (k *AdminKey) IsValid() bool {
	return !k.Revoked && !k.IsExpired()
}

// GenerateAdminKey creates a new bootstrap admin key. It returns the
// plaintext key (to be shown once) and the AdminKey record. The plaintext is
// never stored; only the hash is kept.
func GenerateAdminKey(name string, expiresAt *time.Time) (plaintext string, key *AdminKey, err error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate random key: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	plaintext = AdminKeyPrefix + encoded

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", nil, fmt.Errorf("generate salt: %w", err)
	}

	key = &AdminKey{
		ID:        uuid.NewString(),
		Prefix:    encoded[:keyPrefixLength],
		Name:      name,
		Hash:      hashKey(plaintext, salt),
		Salt:      salt,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	return plaintext, key, nil
}

// ValidateAdminKey checks if the provided plaintext key matches the stored
// AdminKey. Returns nil if valid, or an appropriate error.
func ValidateAdminKey(providedKey string, stored *AdminKey) error {
	if stored == nil {
		return ErrKeyNotFound
	}
	if stored.Revoked {
		return ErrKeyRevoked
	}
	if stored.IsExpired() {
		return ErrKeyExpired
	}

	providedHash := hashKey(providedKey, stored.Salt)

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare(providedHash, stored.Hash) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// ParseAdminKeyPrefix extracts the identification prefix from an admin key.
// Returns an error if the key format is invalid.
func ParseAdminKeyPrefix(key string) (string, error) {
	if !strings.HasPrefix(key, AdminKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	keyPart := strings.TrimPrefix(key, AdminKeyPrefix)
	if len(keyPart) < keyPrefixLength {
		return "", ErrInvalidKeyFormat
	}
	if !isValidBase64URL(keyPart) {
		return "", ErrInvalidKeyFormat
	}
	return keyPart[:keyPrefixLength], nil
}

// hashKey hashes the admin key using Argon2id.
func hashKey(key string, salt []byte) []byte {
	return argon2.IDKey([]byte(key), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// isValidBase64URL checks if a string contains only valid base64url characters.
func isValidBase64URL(s string) bool {
	for _, r := range s {
		isUpper := r >= 'A' && r <= 'Z'
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		isSpecial := r == '-' || r == '_'
		if !isUpper && !isLower && !isDigit && !isSpecial {
			return false
		}
	}
	return true
}

// MaskAdminKey returns a masked version of an admin key for logging.
// Example: "vgk_abc12345..." -> "vgk_abc1****"
func MaskAdminKey(key string) string {
	if !strings.HasPrefix(key, AdminKeyPrefix) {
		return "****"
	}

	keyPart := strings.TrimPrefix(key, AdminKeyPrefix)
	if len(keyPart) < 4 {
		return AdminKeyPrefix + "****"
	}
	return AdminKeyPrefix + keyPart[:4] + "****"
}
