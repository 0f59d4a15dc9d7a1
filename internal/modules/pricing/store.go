// README: Weather condition cache in Redis, keyed by geohash cell; fed by an external poller.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

// weatherCellChars gives ~5km cells, coarse enough for a condition.
const weatherCellChars = 5

type WeatherStore struct {
	rdb *redis.Client
}

func NewWeatherStore(rdb *redis.Client) *WeatherStore {
	return &WeatherStore{rdb: rdb}
}

func weatherKey(p types.Point) string {
	return "weather:" + geo.Cell(p, weatherCellChars)
}

// Condition returns the cached condition for p's cell; a missing entry reads as clear.
func (s *WeatherStore) Condition(ctx context.Context, p types.Point) (Weather, error) {
	if err := geo.Validate(p); err != nil {
		return "", err
	}
	v, err := s.rdb.Get(ctx, weatherKey(p)).Result()
	if errors.Is(err, redis.Nil) {
		return WeatherClear, nil
	}
	if err != nil {
		return "", fmt.Errorf("weather lookup: %w", err)
	}
	switch w := Weather(v); w {
	case WeatherClear, WeatherRain, WeatherStorm:
		return w, nil
	default:
		return WeatherClear, nil
	}
}

func (s *WeatherStore) SetCondition(ctx context.Context, p types.Point, w Weather, ttl time.Duration) error {
	if err := geo.Validate(p); err != nil {
		return err
	}
	return s.rdb.Set(ctx, weatherKey(p), string(w), ttl).Err()
}
