// README: Courier matcher: geo search, busy exclusion, profile join.
package matching

import (
	"context"

	"github.com/rs/zerolog"

	"foodcourt/internal/config"
	"foodcourt/internal/modules/directory"
	"foodcourt/internal/types"
)

// GeoIndex is the radius lookup over courier positions.
type GeoIndex interface {
	NearbyCouriers(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]CourierLocation, error)
}

// BusyLookup reports which of the given couriers currently hold an active
// delivery. Implemented by the order store.
type BusyLookup interface {
	BusyCouriers(ctx context.Context, ids []types.ID) ([]types.ID, error)
}

// Profiles resolves identity/contact for candidate couriers.
type Profiles interface {
	Couriers(ctx context.Context, ids []types.ID) ([]directory.CourierProfile, error)
}

type Service struct {
	geo      GeoIndex
	busy     BusyLookup
	profiles Profiles
	cfg      config.MatchingConfig
	logger   zerolog.Logger
}

func NewService(geo GeoIndex, busy BusyLookup, profiles Profiles, cfg config.MatchingConfig, logger zerolog.Logger) *Service {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	return &Service{geo: geo, busy: busy, profiles: profiles, cfg: cfg, logger: logger}
}

// FindAvailable returns couriers near the delivery address who are not
// currently engaged in a delivery, nearest first. The result is a read-only
// snapshot: positions and busy state may change before any claim, which is
// fine — the claim re-validates assignment, not location. An empty result is
// a valid, non-error outcome.
func (s *Service) FindAvailable(ctx context.Context, at types.Point) ([]Match, error) {
	hits, err := s.geo.NearbyCouriers(ctx, at, s.cfg.RadiusKm, s.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	busyIDs, err := s.busy.BusyCouriers(ctx, ids)
	if err != nil {
		return nil, err
	}
	busySet := make(map[types.ID]struct{}, len(busyIDs))
	for _, id := range busyIDs {
		busySet[id] = struct{}{}
	}

	free := hits[:0]
	for _, h := range hits {
		if _, isBusy := busySet[h.ID]; !isBusy {
			free = append(free, h)
		}
	}
	if len(free) == 0 {
		return nil, nil
	}

	freeIDs := make([]types.ID, len(free))
	for i, h := range free {
		freeIDs[i] = h.ID
	}
	profiles, err := s.profiles.Couriers(ctx, freeIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[types.ID]directory.CourierProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	// Geo hits come back nearest-first; preserve that order. Couriers in the
	// index but missing from the directory are skipped, not errors.
	matches := make([]Match, 0, len(free))
	for _, h := range free {
		p, ok := byID[h.ID]
		if !ok {
			s.logger.Debug().Str("courier_id", string(h.ID)).Msg("matching: courier in geo index but not in directory")
			continue
		}
		matches = append(matches, Match{
			Courier:    p,
			Position:   h.Position,
			DistanceKm: h.DistanceKm,
		})
	}
	return matches, nil
}
