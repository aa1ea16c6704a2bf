// README: Courier location pings: live geo index update + history snapshot.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"foodcourt/internal/types"
)

var ErrBadPosition = errors.New("coordinates out of range")

// GeoWriter updates the live courier geo index the matcher reads.
// Implemented by the matching store.
type GeoWriter interface {
	UpsertCourier(ctx context.Context, id types.ID, pos types.Point) error
	RemoveCourier(ctx context.Context, id types.ID) error
}

// Snapshots appends location history rows. The snapshot is best-effort: the
// live index is what matching depends on.
type Snapshots interface {
	AppendSnapshot(ctx context.Context, snap Snapshot) error
}

type Service struct {
	geo    GeoWriter
	snaps  Snapshots
	logger zerolog.Logger
}

func NewService(geo GeoWriter, snaps Snapshots, logger zerolog.Logger) *Service {
	return &Service{geo: geo, snaps: snaps, logger: logger}
}

// Update records a courier's reported position.
func (s *Service) Update(ctx context.Context, courierID types.ID, pos types.Point) error {
	if courierID == "" {
		return ErrBadPosition
	}
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lng < -180 || pos.Lng > 180 {
		return ErrBadPosition
	}
	if err := s.geo.UpsertCourier(ctx, courierID, pos); err != nil {
		return err
	}
	err := s.snaps.AppendSnapshot(ctx, Snapshot{
		CourierID:  courierID,
		Position:   pos,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("courier_id", string(courierID)).Msg("location snapshot append")
	}
	return nil
}

// GoOffline removes the courier from the live index; history stays.
func (s *Service) GoOffline(ctx context.Context, courierID types.ID) error {
	return s.geo.RemoveCourier(ctx, courierID)
}
