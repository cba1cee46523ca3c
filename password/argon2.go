// Package password implements the credential hashing layer: argon2id in
// PHC string format with parameter self-description, constant-time
// verification and upgrade detection.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	ErrMalformedHash = errors.New("malformed password hash")
	ErrWeakParams    = errors.New("argon2 parameters below safe minimum")
)

// Config holds the argon2id cost parameters. Memory is in KB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives and verifies argon2id digests. It is immutable and safe
// for concurrent use.
type Hasher struct {
	cfg Config
}

// New validates the cost parameters against hard minima and returns a
// ready Hasher. Parameters below the minima are rejected outright rather
// than silently raised.
func New(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("%w: memory %d KB", ErrWeakParams, cfg.Memory)
	case cfg.Time < minTimeCost:
		return nil, fmt.Errorf("%w: time %d", ErrWeakParams, cfg.Time)
	case cfg.Parallelism < minParallelism:
		return nil, fmt.Errorf("%w: parallelism %d", ErrWeakParams, cfg.Parallelism)
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("%w: salt length %d", ErrWeakParams, cfg.SaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("%w: key length %d", ErrWeakParams, cfg.KeyLength)
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash derives a fresh digest and returns it in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<digest>
//
// The password is used byte-for-byte as provided; no Unicode
// normalization is applied.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	digest := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.cfg.Memory, h.cfg.Time, h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// Verify recomputes the digest with the parameters embedded in encoded and
// compares in constant time. The boolean is the verdict; the error is
// reserved for malformed stored hashes.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.digest)))
	return subtle.ConstantTimeCompare(computed, p.digest) == 1, nil
}

// NeedsUpgrade reports whether encoded was derived with weaker parameters
// than the Hasher currently uses. Callers re-hash on the next successful
// verification.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}

	if p.memory < h.cfg.Memory || p.time < h.cfg.Time || p.parallelism < h.cfg.Parallelism {
		return true, nil
	}
	return uint32(len(p.digest)) != h.cfg.KeyLength, nil
}

type parsed struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	digest      []byte
}

func parse(encoded string) (*parsed, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrMalformedHash
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: algorithm %q", ErrMalformedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: version", ErrMalformedHash)
	}

	var p parsed
	n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism)
	if err != nil || n != 3 {
		return nil, fmt.Errorf("%w: parameters", ErrMalformedHash)
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || p.parallelism < minParallelism {
		return nil, fmt.Errorf("%w: stored hash", ErrWeakParams)
	}

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.digest, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.digest) < int(minKeyLength) {
		return nil, fmt.Errorf("%w: digest", ErrMalformedHash)
	}

	return &p, nil
}
