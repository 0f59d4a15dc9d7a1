// README: Live provider index backed by Redis GEO plus a busy set per kind.
package provider

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

const (
	liveGeoKeyPrefix  = "providers:geo:%s"
	liveBusyKeyPrefix = "providers:busy:%s"
	// demandRadiusKm is the neighbourhood used for the demand ratio.
	demandRadiusKm = 3.0
	demandSample   = 200
)

type LiveIndex struct {
	redis *redis.Client
}

func NewLiveIndex(redis *redis.Client) *LiveIndex {
	return &LiveIndex{redis: redis}
}

func (l *LiveIndex) Add(ctx context.Context, kind types.ProviderKind, id types.ID, p types.Point) error {
	return l.redis.GeoAdd(ctx, geoKey(kind), &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (l *LiveIndex) Remove(ctx context.Context, kind types.ProviderKind, id types.ID) error {
	pipe := l.redis.TxPipeline()
	pipe.ZRem(ctx, geoKey(kind), string(id))
	pipe.SRem(ctx, busyKey(kind), string(id))
	_, err := pipe.Exec(ctx)
	return err
}

// Nearby returns providers within radiusKm of p, closest first.
func (l *LiveIndex) Nearby(ctx context.Context, kind types.ProviderKind, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	results, err := l.redis.GeoSearchLocation(ctx, geoKey(kind), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{
			ID:         types.ID(r.Name),
			Location:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		}
	}
	return out, nil
}

// Position returns the last indexed position of a provider.
func (l *LiveIndex) Position(ctx context.Context, kind types.ProviderKind, id types.ID) (types.Point, bool, error) {
	pos, err := l.redis.GeoPos(ctx, geoKey(kind), string(id)).Result()
	if err != nil {
		return types.Point{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true, nil
}

func (l *LiveIndex) SetBusy(ctx context.Context, kind types.ProviderKind, id types.ID, busy bool) error {
	if busy {
		return l.redis.SAdd(ctx, busyKey(kind), string(id)).Err()
	}
	return l.redis.SRem(ctx, busyKey(kind), string(id)).Err()
}

// DemandRatio is the share of indexed providers near p that are busy.
// An empty neighbourhood reports 0.
func (l *LiveIndex) DemandRatio(ctx context.Context, kind types.ProviderKind, p types.Point) (float64, error) {
	nearby, err := l.Nearby(ctx, kind, p, demandRadiusKm, demandSample)
	if err != nil {
		return 0, err
	}
	if len(nearby) == 0 {
		return 0, nil
	}
	members := make([]interface{}, len(nearby))
	for i, n := range nearby {
		members[i] = string(n.ID)
	}
	flags, err := l.redis.SMIsMember(ctx, busyKey(kind), members...).Result()
	if err != nil {
		return 0, err
	}
	busy := 0
	for _, f := range flags {
		if f {
			busy++
		}
	}
	return float64(busy) / float64(len(nearby)), nil
}

func (l *LiveIndex) Count(ctx context.Context, kind types.ProviderKind) (int64, error) {
	return l.redis.ZCard(ctx, geoKey(kind)).Result()
}

func geoKey(kind types.ProviderKind) string {
	return fmt.Sprintf(liveGeoKeyPrefix, kind)
}

func busyKey(kind types.ProviderKind) string {
	return fmt.Sprintf(liveBusyKeyPrefix, kind)
}
