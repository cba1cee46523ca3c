// Package challenge stores pending two-factor login challenges in Redis.
// A challenge is the short-lived bridge between a password that verified
// and the TOTP or recovery code that completes the login.
package challenge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordVersion1 = 1

var (
	ErrNotFound = errors.New("challenge not found")
	ErrExpired  = errors.New("challenge expired")
	ErrBackend  = errors.New("challenge backend unavailable")
)

// Record is one pending challenge. The expiry is carried inside the value
// as well as in the Redis TTL so a lagging eviction cannot extend the
// challenge window.
type Record struct {
	AccountID string
	IP        string
	ExpiresAt int64
	Attempts  uint16
}

// Store holds challenges under an unguessable reference.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "tfc"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(ref string) string {
	return s.prefix + ":" + ref
}

func (s *Store) Save(ctx context.Context, ref string, record *Record, ttl time.Duration) error {
	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(ref), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ref string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(ref)).Result()
		return nil, ErrExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it was present. The
// delete is the redemption commit point: a false return during
// verification means another request already redeemed this challenge.
func (s *Store) Delete(ctx context.Context, ref string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(ref)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under WATCH. When the
// budget is exhausted the challenge is deleted in the same transaction
// and exceeded is true.
func (s *Store) RecordFailure(ctx context.Context, ref string, maxAttempts int) (exceeded bool, err error) {
	const maxRetries = 4
	key := s.key(ref)

	for i := 0; i < maxRetries; i++ {
		var hitLimit bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				hitLimit = true
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrExpired
			}

			updated, err := encodeRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrNotFound
			}
			if errors.Is(err, ErrExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return hitLimit, nil
	}

	return false, ErrNotFound
}

func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 || len(record.IP) > 65535 {
		return nil, errors.New("challenge field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IP))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IP)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &Record{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var accountLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountLen); err != nil {
		return nil, err
	}
	account := make([]byte, accountLen)
	if _, err := io.ReadFull(reader, account); err != nil {
		return nil, err
	}
	record.AccountID = string(account)

	var ipLen uint16
	if err := binary.Read(reader, binary.BigEndian, &ipLen); err != nil {
		return nil, err
	}
	ip := make([]byte, ipLen)
	if _, err := io.ReadFull(reader, ip); err != nil {
		return nil, err
	}
	record.IP = string(ip)

	return record, nil
}
