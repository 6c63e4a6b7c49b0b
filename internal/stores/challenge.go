package stores

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

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound    = errors.New("mfa challenge not found")
	ErrChallengeExpired     = errors.New("mfa challenge expired")
	ErrChallengeUnavailable = errors.New("mfa challenge store unavailable")
)

// Challenge is the server-side half of a pending-MFA ticket.
type Challenge struct {
	UserID         string
	OrganizationID string
	ExpiresAt      int64
	Attempts       uint16
}

// ChallengeStore persists challenges under prefix:<id>.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewChallengeStore creates a store under prefix ("omc" when empty).
func NewChallengeStore(client redis.UniversalClient, prefix string, now func() time.Time) *ChallengeStore {
	if prefix == "" {
		prefix = "omc"
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{redis: client, prefix: prefix, now: now}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save writes the record with ttl. An existing record with the same ID is
// replaced.
func (s *ChallengeStore) Save(ctx context.Context, id string, c *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return nil
}

// Get returns a live record. Expired records are deleted and reported as
// ErrChallengeExpired.
func (s *ChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}

	c, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > c.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(id)).Err()
		return nil, ErrChallengeExpired
	}
	return c, nil
}

// Consume deletes the record and reports whether this call removed it. Only
// one concurrent caller can observe true.
func (s *ChallengeStore) Consume(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure counts a wrong code. When maxAttempts is reached the record
// is deleted and exceeded is true.
func (s *ChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (exceeded bool, err error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		exceeded = false
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			c, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(c.ExpiresAt, 0).Sub(s.now())
			c.Attempts++
			if ttl <= 0 || int(c.Attempts) >= maxAttempts {
				exceeded = ttl > 0
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err == nil && ttl <= 0 {
					return ErrChallengeExpired
				}
				return err
			}

			updated, err := encodeChallenge(c)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err == nil:
			return exceeded, nil
		case errors.Is(err, redis.Nil):
			return false, ErrChallengeNotFound
		case errors.Is(err, ErrChallengeExpired):
			return false, err
		default:
			return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
		}
	}
	return false, ErrChallengeNotFound
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	if len(c.UserID) > 0xffff || len(c.OrganizationID) > 0xffff {
		return nil, errors.New("mfa challenge id length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	_ = binary.Write(&buf, binary.BigEndian, c.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, c.ExpiresAt)
	for _, s := range []string{c.UserID, c.OrganizationID} {
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(s)))
		buf.WriteString(s)
	}
	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	c := &Challenge{}
	if err := binary.Read(r, binary.BigEndian, &c.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &c.ExpiresAt); err != nil {
		return nil, err
	}
	if c.UserID, err = readString(r); err != nil {
		return nil, err
	}
	if c.OrganizationID, err = readString(r); err != nil {
		return nil, err
	}
	return c, nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
