// README: Location snapshot store backed by PostgreSQL.
package location

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO courier_location_snapshots (courier_id, lat, lng, recorded_at)
        VALUES ($1, $2, $3, $4)`,
		string(snap.CourierID),
		snap.Position.Lat,
		snap.Position.Lng,
		snap.RecordedAt,
	)
	return err
}
