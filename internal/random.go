package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	refreshSecretSize   = 32
	challengeRefSize    = 16
	twoFactorSecretSize = 20
)

var recoveryAlphabet = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewRefreshSecret returns the raw material of an opaque refresh token.
// Only its SHA-256 digest is ever persisted.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func EncodeRefreshToken(secret [refreshSecretSize]byte) string {
	return base64.RawURLEncoding.EncodeToString(secret[:])
}

// DecodeRefreshToken reverses EncodeRefreshToken. Any malformed input is
// rejected before a ledger lookup happens.
func DecodeRefreshToken(token string) ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return secret, err
	}
	if len(raw) != refreshSecretSize {
		return secret, errors.New("invalid refresh token size")
	}

	copy(secret[:], raw)
	return secret, nil
}

// NewChallengeRef returns an unguessable two-factor challenge reference.
func NewChallengeRef() (string, error) {
	var raw [challengeRefSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewTwoFactorSecret returns a fresh TOTP secret (raw bytes).
func NewTwoFactorSecret() ([]byte, error) {
	secret := make([]byte, twoFactorSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// NewRecoveryCode returns a high-entropy recovery code of length base32
// characters, grouped in blocks of five for readability. NormalizeRecoveryCode
// reverses the formatting before hashing.
func NewRecoveryCode(length int) (string, error) {
	raw := make([]byte, (length*5+7)/8)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	code := recoveryAlphabet.EncodeToString(raw)[:length]

	var b strings.Builder
	for i, r := range code {
		if i > 0 && i%5 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// NormalizeRecoveryCode strips grouping and case before hashing, so user
// input survives re-formatting by password managers.
func NormalizeRecoveryCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// HashRecoveryCode digests a normalized recovery code for storage.
func HashRecoveryCode(code string) [32]byte {
	return sha256.Sum256([]byte(NormalizeRecoveryCode(code)))
}
