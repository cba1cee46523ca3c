package authcore

import (
	"strings"
	"testing"
	"time"
)

// Vectors from RFC 6238 Appendix B.

func TestTOTPVerifyRFCVectorsSHA1(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      0,
	})
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA1 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA256(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA256",
		Skew:      0,
	})
	secret := []byte("12345678901234567890123456789012")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1111111111, "67062674"},
		{1234567890, "91819424"},
		{2000000000, "90698825"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA256 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA512(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA512",
		Skew:      0,
	})
	secret := []byte("1234567890123456789012345678901234567890123456789012345678901234")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "90693936"},
		{1111111109, "25091201"},
		{1111111111, "99943326"},
		{1234567890, "93441116"},
		{2000000000, "38618901"},
		{20000000000, "47863826"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA512 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPDriftWindowAcceptsAdjacentStep(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	})
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)
	prevCounter := (now.Unix() / 30) - 1
	code, err := hotpCode(secret, prevCounter, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}

	ok, counter, err := m.VerifyCode(secret, code, now)
	if err != nil || !ok {
		t.Fatalf("expected skew code accepted, ok=%v err=%v", ok, err)
	}
	if counter != prevCounter {
		t.Fatalf("expected matched counter %d, got %d", prevCounter, counter)
	}
}

func TestTOTPWrongDigitsRejected(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	})
	secret := []byte("12345678901234567890")
	ok, _, err := m.VerifyCode(secret, "12345678", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong-length code to be rejected")
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	})
	secret := []byte("12345678901234567890")
	encoded := m.EncodeSecret(secret)
	uri := m.ProvisionURI(encoded, "alice@example.com")

	for _, want := range []string{
		"otpauth://totp/authcore:alice@example.com?",
		"secret=" + encoded,
		"issuer=authcore",
		"period=30",
		"digits=6",
		"algorithm=SHA1",
	} {
		if !strings.Contains(uri, want) {
			t.Fatalf("provision URI %q missing %q", uri, want)
		}
	}
}
