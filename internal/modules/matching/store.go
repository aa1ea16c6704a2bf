// README: Courier geo index backed by Redis GEO.
package matching

import (
	"context"

	"github.com/redis/go-redis/v9"

	"foodcourt/internal/types"
)

const courierGeoKey = "matching:couriers"

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// UpsertCourier records a courier's last-known position. Called on every
// location ping; the index always reflects the most recent report.
func (s *Store) UpsertCourier(ctx context.Context, id types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, courierGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

// RemoveCourier drops a courier from the index (went offline).
func (s *Store) RemoveCourier(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, courierGeoKey, string(id)).Err()
}

// NearbyCouriers returns couriers within radiusKm of p, nearest first, with
// their coordinates. A courier who never reported a position is simply not
// in the index and can never be returned.
func (s *Store) NearbyCouriers(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]CourierLocation, error) {
	results, err := s.redis.GeoSearchLocation(ctx, courierGeoKey, &redis.GeoSearchLocationQuery{
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
	out := make([]CourierLocation, len(results))
	for i, r := range results {
		out[i] = CourierLocation{
			ID:         types.ID(r.Name),
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		}
	}
	return out, nil
}

// Position returns a courier's last-known position, or nil if none recorded.
func (s *Store) Position(ctx context.Context, id types.ID) (*types.Point, error) {
	res, err := s.redis.GeoPos(ctx, courierGeoKey, string(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || res[0] == nil {
		return nil, nil
	}
	return &types.Point{Lat: res[0].Latitude, Lng: res[0].Longitude}, nil
}

// CourierLocation is a raw geo-index hit before profile resolution.
type CourierLocation struct {
	ID         types.ID
	Position   types.Point
	DistanceKm float64
}
