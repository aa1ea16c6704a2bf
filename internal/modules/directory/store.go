// README: Directory store backed by PostgreSQL (lookup-only for the order core).
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodcourt/internal/types"
)

var ErrNotFound = errors.New("directory: not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetShop(ctx context.Context, id types.ID) (*Shop, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, owner_id, name, address, lat, lng
        FROM shops
        WHERE id = $1`, string(id),
	)

	var sh Shop
	var lat, lng *float64
	err := row.Scan(&sh.ID, &sh.OwnerID, &sh.Name, &sh.Address, &lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shop: %w", err)
	}
	if lat != nil && lng != nil {
		sh.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &sh, nil
}

func (s *Store) GetAddress(ctx context.Context, id types.ID) (*Address, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, customer_id, label, detail, lat, lng
        FROM addresses
        WHERE id = $1`, string(id),
	)

	var a Address
	err := row.Scan(&a.ID, &a.CustomerID, &a.Label, &a.Detail, &a.Location.Lat, &a.Location.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	return &a, nil
}

func (s *Store) GetCourier(ctx context.Context, id types.ID) (*CourierProfile, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, name, phone
        FROM couriers
        WHERE id = $1`, string(id),
	)

	var c CourierProfile
	err := row.Scan(&c.ID, &c.Name, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get courier: %w", err)
	}
	return &c, nil
}

// Couriers resolves profiles for a candidate set. Unknown IDs are skipped:
// a courier present in the geo index but missing from the directory is
// treated as unmatchable, not as an error.
func (s *Store) Couriers(ctx context.Context, ids []types.ID) ([]CourierProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
        SELECT id, name, phone
        FROM couriers
        WHERE id = ANY($1)`, raw,
	)
	if err != nil {
		return nil, fmt.Errorf("list couriers: %w", err)
	}
	defer rows.Close()

	var out []CourierProfile
	for rows.Next() {
		var c CourierProfile
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone); err != nil {
			return nil, fmt.Errorf("scan courier: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
