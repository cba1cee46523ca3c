package authcore

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// totpManager implements RFC 6238 verification over the RFC 4226 HOTP
// core. Verification reports the matched time-step counter so callers can
// persist it and refuse any code at or below it (replay protection inside
// the skew window).
type totpManager struct {
	config TwoFactorConfig
}

func newTOTPManager(cfg TwoFactorConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg}
}

func (m *totpManager) EncodeSecret(secret []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
}

func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks code against every step in the skew window around now.
// On a match it returns the matched counter; comparisons are constant-time
// and the loop always runs the full window.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isDigits(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	matched := false
	var matchedCounter int64
	base := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 && !matched {
			matched = true
			matchedCounter = counter
		}
	}

	return matched, matchedCounter, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation.
	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
