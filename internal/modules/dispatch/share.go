package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

// ShareStore keeps trip share tokens in Redis; expiry is the key TTL.
type ShareStore struct {
	redis *redis.Client
}

func NewShareStore(rdb *redis.Client) *ShareStore {
	return &ShareStore{redis: rdb}
}

func shareKey(token string) string {
	return "trip:share:" + token
}

func (s *ShareStore) Put(ctx context.Context, token string, bookingID types.ID, ttl time.Duration) error {
	return s.redis.Set(ctx, shareKey(token), string(bookingID), ttl).Err()
}

func (s *ShareStore) Lookup(ctx context.Context, token string) (types.ID, error) {
	v, err := s.redis.Get(ctx, shareKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrShareNotFound
	}
	if err != nil {
		return "", err
	}
	return types.ID(v), nil
}
