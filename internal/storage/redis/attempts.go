// Package redis stores checkout attempts and payment sessions in Redis.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

const (
	attemptPrefix = "checkout:attempt:"
	currentPrefix = "checkout:current:"
)

var _ checkout.AttemptStore = (*AttemptStore)(nil)

// AttemptStore keeps attempts as JSON values that expire after ttl. The
// user's current attempt id lives under its own key with the same ttl.
type AttemptStore struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewAttemptStore returns an AttemptStore on client.
func NewAttemptStore(client goredis.Cmdable, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, ttl: ttl}
}

func attemptKey(id string) string {
	return attemptPrefix + id
}

func currentKey(userID string) string {
	return currentPrefix + userID
}

// Save stores a, replacing any attempt with the same id.
func (s *AttemptStore) Save(ctx context.Context, a checkout.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal attempt")
	}
	if err := s.client.Set(ctx, attemptKey(a.ID), data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "save attempt %s", a.ID)
	}
	return nil
}

// Get returns the attempt, or checkout.ErrAttemptNotFound once it expired.
func (s *AttemptStore) Get(ctx context.Context, attemptID string) (*checkout.Attempt, error) {
	data, err := s.client.Get(ctx, attemptKey(attemptID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, checkout.ErrAttemptNotFound
		}
		return nil, errors.Wrapf(err, "get attempt %s", attemptID)
	}

	var a checkout.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrapf(err, "unmarshal attempt %s", attemptID)
	}
	return &a, nil
}

// Delete removes the attempt. Deleting a missing attempt is not an error.
func (s *AttemptStore) Delete(ctx context.Context, attemptID string) error {
	if err := s.client.Del(ctx, attemptKey(attemptID)).Err(); err != nil {
		return errors.Wrapf(err, "delete attempt %s", attemptID)
	}
	return nil
}

// SwapCurrent atomically records attemptID as the user's current attempt and
// returns the previous one.
func (s *AttemptStore) SwapCurrent(ctx context.Context, userID, attemptID string) (string, error) {
	prev, err := s.client.SetArgs(ctx, currentKey(userID), attemptID, goredis.SetArgs{
		Get: true,
		TTL: s.ttl,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "", errors.Wrapf(err, "swap current attempt of %s", userID)
	}
	if prev == attemptID {
		return "", nil
	}
	return prev, nil
}
