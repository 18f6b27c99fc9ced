package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const sessionPrefix = "checkout:payment:"

var _ payment.Store = (*SessionStore)(nil)

// SessionStore keeps payment session records as JSON values that expire
// after ttl. Every save refreshes the expiry.
type SessionStore struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewSessionStore returns a SessionStore on client.
func NewSessionStore(client goredis.Cmdable, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(attemptID string) string {
	return sessionPrefix + attemptID
}

// Save stores r under its attempt id, replacing the previous record.
func (s *SessionStore) Save(ctx context.Context, r payment.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	if err := s.client.Set(ctx, sessionKey(r.Attempt.ID), data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "save session %s", r.Attempt.ID)
	}
	return nil
}

// Load returns the attempt's record, or payment.ErrSessionNotFound.
func (s *SessionStore) Load(ctx context.Context, attemptID string) (*payment.Record, error) {
	data, err := s.client.Get(ctx, sessionKey(attemptID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, payment.ErrSessionNotFound
		}
		return nil, errors.Wrapf(err, "get session %s", attemptID)
	}

	var r payment.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "unmarshal session %s", attemptID)
	}
	return &r, nil
}
