// Package jwt signs and verifies access tokens. Tokens carry the account
// ID, role names and the expanded permission list; everything else about
// the session lives in the refresh ledger.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

// Config configures signing and verification. Keys may be raw bytes
// (ed25519 seed sizes) or PEM.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// Manager is immutable and safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims is the registered claim set plus the authorization payload.
type AccessClaims struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess signs a token for accountID with a fresh jti. The returned
// expiry matches the exp claim exactly.
func (j *Manager) CreateAccess(accountID string, roles, permissions []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method(), claims)
	signKey, err := j.signKey()
	if err != nil {
		return "", time.Time{}, err
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies signature, algorithm, expiry, issuer and audience.
// Expired tokens return ErrExpired; every other verification failure
// returns ErrInvalid.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(time.Now().Add(j.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
		}
	}

	return claims, nil
}

func (j *Manager) method() jwt.SigningMethod {
	if j.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (j *Manager) signKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) verifyKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPublicKey(j.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
