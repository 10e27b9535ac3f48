package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"carehub/internal/domain"
)

const sessionKeyPrefix = "session:"

// Options tunes the connection built by Connect.
type Options struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Connect parses the URL, applies overrides and pings the server.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	parsed, err := goredis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		parsed.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		parsed.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		parsed.WriteTimeout = opts.WriteTimeout
	}
	client := goredis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// SessionStore keeps one JSON value per session; Redis expiry enforces the TTL.
type SessionStore struct {
	client *goredis.Client
}

func NewSessionStore(client *goredis.Client) *SessionStore {
	return &SessionStore{client: client}
}

type sessionJSON struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Portal     string `json:"portal"`
	Device     string `json:"device"`
	CreatedAt  int64  `json:"created_at"` // unix nano
	ExpiresAt  int64  `json:"expires_at"` // unix nano
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (s *SessionStore) Create(ctx context.Context, session domain.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: session ttl must be positive", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(sessionJSON{
		ID:         session.ID,
		IdentityID: session.IdentityID,
		Portal:     string(session.Portal),
		Device:     session.Device,
		CreatedAt:  session.CreatedAt.UnixNano(),
		ExpiresAt:  session.ExpiresAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Session{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	var j sessionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return domain.Session{
		ID:         j.ID,
		IdentityID: j.IdentityID,
		Portal:     domain.Portal(j.Portal),
		Device:     j.Device,
		CreatedAt:  time.Unix(0, j.CreatedAt).UTC(),
		ExpiresAt:  time.Unix(0, j.ExpiresAt).UTC(),
	}, nil
}

// Delete is idempotent.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return nil
}
