// README: Order store backed by PostgreSQL; the claim CAS lives here.
package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodcourt/internal/types"
)

// SQLStore implements Store and the matcher's busy lookup on pgxpool.
type SQLStore struct {
	db *pgxpool.Pool
}

func NewSQLStore(db *pgxpool.Pool) *SQLStore {
	return &SQLStore{db: db}
}

// CreateOrder writes the whole aggregate in one transaction: the order row,
// its shop orders and their line items. Partial state is never visible.
func (s *SQLStore) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
        INSERT INTO orders (
            id, customer_id, payment_method, address_id,
            total_items_price, total_delivery_fee, total_amount, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(o.ID),
		string(o.CustomerID),
		string(o.PaymentMethod),
		string(o.AddressID),
		o.TotalItemsPrice,
		o.TotalDeliveryFee,
		o.TotalAmount,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.ShopOrders {
		so := &o.ShopOrders[i]
		_, err = tx.Exec(ctx, `
            INSERT INTO shop_orders (
                id, order_id, shop_id, owner_id,
                sub_total, delivery_fee, payment_settled, delivery_otp,
                status, status_version
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			string(so.ID),
			string(so.OrderID),
			string(so.ShopID),
			string(so.OwnerID),
			so.SubTotal,
			so.DeliveryFee,
			so.PaymentSettled,
			so.DeliveryOTP,
			string(so.Status),
			so.StatusVersion,
		)
		if err != nil {
			return fmt.Errorf("insert shop order: %w", err)
		}
		for pos, it := range so.Items {
			_, err = tx.Exec(ctx, `
                INSERT INTO line_items (
                    shop_order_id, position, item_id, name, unit_price, quantity, note
                ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				string(so.ID),
				pos,
				string(it.ItemID),
				it.Name,
				it.UnitPrice,
				it.Quantity,
				it.Note,
			)
			if err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *SQLStore) GetOrder(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, customer_id, payment_method, address_id,
               total_items_price, total_delivery_fee, total_amount, created_at
        FROM orders
        WHERE id = $1`, string(id),
	)

	var o Order
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.PaymentMethod, &o.AddressID,
		&o.TotalItemsPrice, &o.TotalDeliveryFee, &o.TotalAmount, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.ShopOrders, err = s.shopOrdersWhere(ctx, `order_id = $1`, string(id))
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLStore) GetShopOrder(ctx context.Context, id types.ID) (*ShopOrder, error) {
	sos, err := s.shopOrdersWhere(ctx, `id = $1`, string(id))
	if err != nil {
		return nil, err
	}
	if len(sos) == 0 {
		return nil, ErrNotFound
	}
	return &sos[0], nil
}

// UpdateStatus is the optimistic-concurrency write used by owner-driven
// transitions: it commits only against the observed (status, version) pair.
func (s *SQLStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE shop_orders
        SET status = $1,
            status_version = status_version + 1
        WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(to),
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SQLStore) MarkCancelled(ctx context.Context, id types.ID, from Status, version int, reason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE shop_orders
        SET status = 'cancelled',
            status_version = status_version + 1,
            cancel_reason = $1
        WHERE id = $2 AND status = $3 AND status_version = $4`,
		reason,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SQLStore) MarkDelivered(ctx context.Context, id types.ID, version int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE shop_orders
        SET status = 'delivered',
            status_version = status_version + 1,
            payment_settled = TRUE,
            delivered_at = $1
        WHERE id = $2 AND status = 'out_for_delivery' AND status_version = $3`,
		at,
		string(id),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Claim is the single atomic compare-and-set the whole claim flow rests on:
// it succeeds only while the shop order is out for delivery and unassigned.
// Zero rows means lost race or wrong reference; callers cannot tell which.
func (s *SQLStore) Claim(ctx context.Context, shopOrderID, orderID, courierID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE shop_orders
        SET courier_id = $1
        WHERE id = $2 AND order_id = $3
          AND status = 'out_for_delivery' AND courier_id IS NULL`,
		string(courierID),
		string(shopOrderID),
		string(orderID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SQLStore) HasActiveDelivery(ctx context.Context, courierID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM shop_orders
            WHERE courier_id = $1 AND status = 'out_for_delivery'
        )`, string(courierID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// BusyCouriers filters a candidate set down to those holding an active
// delivery. Satisfies the matcher's exclusion seam.
func (s *SQLStore) BusyCouriers(ctx context.Context, ids []types.ID) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
        SELECT DISTINCT courier_id FROM shop_orders
        WHERE status = 'out_for_delivery' AND courier_id = ANY($1)`, raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		busy = append(busy, types.ID(id))
	}
	return busy, rows.Err()
}

func (s *SQLStore) ListByCustomer(ctx context.Context, customerID types.ID) ([]Order, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, customer_id, payment_method, address_id,
               total_items_price, total_delivery_fee, total_amount, created_at
        FROM orders
        WHERE customer_id = $1
        ORDER BY created_at DESC`, string(customerID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.ID, &o.CustomerID, &o.PaymentMethod, &o.AddressID,
			&o.TotalItemsPrice, &o.TotalDeliveryFee, &o.TotalAmount, &o.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].ShopOrders, err = s.shopOrdersWhere(ctx, `order_id = $1`, string(out[i].ID))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) ListShopOrdersByOwner(ctx context.Context, ownerID types.ID) ([]ShopOrder, error) {
	return s.shopOrdersWhere(ctx, `owner_id = $1`, string(ownerID))
}

func (s *SQLStore) ActiveByCourier(ctx context.Context, courierID types.ID) (*ShopOrder, error) {
	sos, err := s.shopOrdersWhere(ctx, `courier_id = $1 AND status = 'out_for_delivery'`, string(courierID))
	if err != nil {
		return nil, err
	}
	if len(sos) == 0 {
		return nil, nil
	}
	return &sos[0], nil
}

func (s *SQLStore) DeliveredByCourier(ctx context.Context, courierID types.ID) ([]ShopOrder, error) {
	return s.shopOrdersWhere(ctx, `courier_id = $1 AND status = 'delivered'`, string(courierID))
}

// Dispatchable is a shop order offered to couriers: out for delivery,
// nobody assigned yet, joined with its delivery coordinates.
type Dispatchable struct {
	ShopOrder
	ShopName  string
	DeliverTo types.Point
}

func (s *SQLStore) ListDispatchable(ctx context.Context) ([]Dispatchable, error) {
	rows, err := s.db.Query(ctx, `
        SELECT so.id, so.order_id, so.shop_id, so.owner_id,
               so.sub_total, so.delivery_fee, so.payment_settled, so.delivery_otp,
               so.courier_id, so.status, so.status_version,
               so.cancel_reason, so.delivered_at,
               sh.name, a.lat, a.lng
        FROM shop_orders so
        JOIN orders o ON o.id = so.order_id
        JOIN addresses a ON a.id = o.address_id
        JOIN shops sh ON sh.id = so.shop_id
        WHERE so.status = 'out_for_delivery' AND so.courier_id IS NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dispatchable
	for rows.Next() {
		var d Dispatchable
		var courierID, cancelReason sql.NullString
		var deliveredAt sql.NullTime
		err := rows.Scan(
			&d.ID, &d.OrderID, &d.ShopID, &d.OwnerID,
			&d.SubTotal, &d.DeliveryFee, &d.PaymentSettled, &d.DeliveryOTP,
			&courierID, &d.Status, &d.StatusVersion,
			&cancelReason, &deliveredAt,
			&d.ShopName, &d.DeliverTo.Lat, &d.DeliverTo.Lng,
		)
		if err != nil {
			return nil, err
		}
		applyNullable(&d.ShopOrder, courierID, cancelReason, deliveredAt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Items, err = s.lineItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) SettleOrder(ctx context.Context, orderID types.ID) error {
	_, err := s.db.Exec(ctx, `
        UPDATE shop_orders SET payment_settled = TRUE WHERE order_id = $1`,
		string(orderID),
	)
	return err
}

func (s *SQLStore) AppendEvent(ctx context.Context, e *Event) error {
	var actorID *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO order_events (
            shop_order_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.ShopOrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		actorID,
		e.CreatedAt,
	)
	return err
}

func (s *SQLStore) shopOrdersWhere(ctx context.Context, where string, arg any) ([]ShopOrder, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, order_id, shop_id, owner_id,
               sub_total, delivery_fee, payment_settled, delivery_otp,
               courier_id, status, status_version, cancel_reason, delivered_at
        FROM shop_orders
        WHERE `+where, arg,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShopOrder
	for rows.Next() {
		var so ShopOrder
		var courierID, cancelReason sql.NullString
		var deliveredAt sql.NullTime
		err := rows.Scan(
			&so.ID, &so.OrderID, &so.ShopID, &so.OwnerID,
			&so.SubTotal, &so.DeliveryFee, &so.PaymentSettled, &so.DeliveryOTP,
			&courierID, &so.Status, &so.StatusVersion, &cancelReason, &deliveredAt,
		)
		if err != nil {
			return nil, err
		}
		applyNullable(&so, courierID, cancelReason, deliveredAt)
		out = append(out, so)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Items, err = s.lineItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) lineItems(ctx context.Context, shopOrderID types.ID) ([]LineItem, error) {
	rows, err := s.db.Query(ctx, `
        SELECT item_id, name, unit_price, quantity, note
        FROM line_items
        WHERE shop_order_id = $1
        ORDER BY position`, string(shopOrderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ItemID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Note); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func applyNullable(so *ShopOrder, courierID, cancelReason sql.NullString, deliveredAt sql.NullTime) {
	if courierID.Valid {
		id := types.ID(courierID.String)
		so.CourierID = &id
	}
	if cancelReason.Valid {
		so.CancelReason = &cancelReason.String
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		so.DeliveredAt = &t
	}
}
