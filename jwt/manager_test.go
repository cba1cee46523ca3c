package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	cfg := Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authcore",
		Audience:      "api",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func TestCreateParseRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, nil)

	accountID := uuid.NewString()
	token, expiresAt, err := m.CreateAccess(accountID, []string{"user", "admin"}, []string{"users.read", "admin.panel"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if time.Until(expiresAt) <= 0 || time.Until(expiresAt) > time.Minute {
		t.Fatalf("expiry out of range: %v", expiresAt)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != accountID {
		t.Fatalf("subject = %q, want %q", claims.Subject, accountID)
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		t.Fatalf("jti is not a uuid: %q", claims.ID)
	}
	if len(claims.Roles) != 2 || claims.Roles[1] != "admin" {
		t.Fatalf("roles = %v", claims.Roles)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[0] != "users.read" {
		t.Fatalf("permissions = %v", claims.Permissions)
	}
	if !claims.ExpiresAt.Time.Equal(expiresAt) {
		t.Fatalf("exp claim %v != returned expiry %v", claims.ExpiresAt.Time, expiresAt)
	}
}

func TestParseExpiredToken(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *Config) {
		cfg.AccessTTL = 10 * time.Millisecond
	})

	token, _, err := m.CreateAccess("acct", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, err := m.ParseAccess(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseTamperedToken(t *testing.T) {
	m, _ := newTestManager(t, nil)

	token, _, err := m.CreateAccess("acct", []string{"user"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	tampered := token[:len(token)-4] + "AAAA"

	if _, err := m.ParseAccess(tampered); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	m, _ := newTestManager(t, nil)

	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acct",
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ParseAccess(signed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for hs256 token, got %v", err)
	}
}

func TestParseRejectsWrongIssuerAndAudience(t *testing.T) {
	m, priv := newTestManager(t, nil)

	sign := func(issuer, audience string) string {
		t.Helper()
		claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "acct",
			Issuer:    issuer,
			Audience:  gjwt.ClaimStrings{audience},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
		tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
		signed, err := tok.SignedString(priv)
		if err != nil {
			t.Fatal(err)
		}
		return signed
	}

	if _, err := m.ParseAccess(sign("other", "api")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected wrong issuer to fail, got %v", err)
	}
	if _, err := m.ParseAccess(sign("authcore", "other-api")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected wrong audience to fail, got %v", err)
	}
	if _, err := m.ParseAccess(sign("authcore", "api")); err != nil {
		t.Fatalf("expected matching issuer/audience to pass: %v", err)
	}
}

func TestParseRejectsMissingSubject(t *testing.T) {
	m, priv := newTestManager(t, nil)

	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(priv)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ParseAccess(signed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected missing subject to fail, got %v", err)
	}
}

func TestParseLeewayAcceptsRecentlyExpired(t *testing.T) {
	m, priv := newTestManager(t, func(cfg *Config) {
		cfg.Leeway = 30 * time.Second
	})

	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acct",
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-10 * time.Second)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(priv)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ParseAccess(signed); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
}

func TestParseRejectsFutureIssuedAt(t *testing.T) {
	m, priv := newTestManager(t, func(cfg *Config) {
		cfg.MaxFutureIAT = time.Minute
	})

	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acct",
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(30 * time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(priv)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ParseAccess(signed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected far-future iat to fail, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, priv := newEdKeys(t)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub}},
		{"excessive leeway", Config{AccessTTL: time.Minute, Leeway: 5 * time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub}},
		{"missing private key", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub}},
		{"missing public key", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv}},
		{"hs256 without key", Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}},
		{"unknown method", Config{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: priv, PublicKey: pub}},
	}
	for _, tc := range cases {
		if _, err := NewManager(tc.cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("a-shared-secret-of-decent-length"),
		Issuer:        "authcore",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, _, err := m.CreateAccess("acct", []string{"user"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "acct" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}
