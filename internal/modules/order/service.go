// README: Order service implements placement, state transitions and fan-out.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"foodcourt/internal/config"
	"foodcourt/internal/geo"
	"foodcourt/internal/modules/directory"
	"foodcourt/internal/modules/matching"
	"foodcourt/internal/notify"
	"foodcourt/internal/types"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrValidation   = errors.New("invalid request")
	ErrInvalidState = errors.New("invalid status transition")
	ErrConflict     = errors.New("order state conflict")
	ErrCourierBusy  = errors.New("courier already has an active delivery")
	// ErrAlreadyClaimed is deliberately uniform: a losing claim cannot tell
	// "someone else won" apart from "no such shop order".
	ErrAlreadyClaimed = errors.New("shop order already claimed or not found")
	ErrOTPMismatch    = errors.New("delivery code mismatch")
)

// Store is the persistence seam the service drives. SQLStore is the
// production implementation; tests substitute an in-memory one.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id types.ID) (*Order, error)
	GetShopOrder(ctx context.Context, id types.ID) (*ShopOrder, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error)
	MarkCancelled(ctx context.Context, id types.ID, from Status, version int, reason *string) (bool, error)
	MarkDelivered(ctx context.Context, id types.ID, version int, at time.Time) (bool, error)
	Claim(ctx context.Context, shopOrderID, orderID, courierID types.ID) (bool, error)
	HasActiveDelivery(ctx context.Context, courierID types.ID) (bool, error)
	ListByCustomer(ctx context.Context, customerID types.ID) ([]Order, error)
	ListShopOrdersByOwner(ctx context.Context, ownerID types.ID) ([]ShopOrder, error)
	ActiveByCourier(ctx context.Context, courierID types.ID) (*ShopOrder, error)
	DeliveredByCourier(ctx context.Context, courierID types.ID) ([]ShopOrder, error)
	ListDispatchable(ctx context.Context) ([]Dispatchable, error)
	SettleOrder(ctx context.Context, orderID types.ID) error
	AppendEvent(ctx context.Context, e *Event) error
}

// Directory resolves the external shop/address/courier reference data.
type Directory interface {
	GetShop(ctx context.Context, id types.ID) (*directory.Shop, error)
	GetAddress(ctx context.Context, id types.ID) (*directory.Address, error)
	GetCourier(ctx context.Context, id types.ID) (*directory.CourierProfile, error)
}

// Matcher finds available couriers around a delivery address.
type Matcher interface {
	FindAvailable(ctx context.Context, at types.Point) ([]matching.Match, error)
}

// CourierLocator reads a courier's last-known position; nil means the courier
// has never reported one.
type CourierLocator interface {
	Position(ctx context.Context, id types.ID) (*types.Point, error)
}

type Service struct {
	store    Store
	dir      Directory
	matcher  Matcher
	locator  CourierLocator
	dispatch notify.Dispatcher
	fees     config.FeeConfig
	radiusKm float64
	logger   zerolog.Logger
}

type ServiceDeps struct {
	Store    Store
	Dir      Directory
	Matcher  Matcher
	Locator  CourierLocator
	Dispatch notify.Dispatcher
	Fees     config.FeeConfig
	RadiusKm float64
	Logger   zerolog.Logger
}

func NewService(deps ServiceDeps) *Service {
	if deps.Fees.Base == 0 {
		deps.Fees = DefaultFeeTier()
	}
	return &Service{
		store:    deps.Store,
		dir:      deps.Dir,
		matcher:  deps.Matcher,
		locator:  deps.Locator,
		dispatch: deps.Dispatch,
		fees:     deps.Fees,
		radiusKm: deps.RadiusKm,
		logger:   deps.Logger,
	}
}

// CartLine is one line of the incoming cart. Name and price arrive from the
// catalog layer and are frozen into the order as snapshots.
type CartLine struct {
	ItemID    types.ID
	ShopID    types.ID
	Name      string
	UnitPrice int64
	Quantity  int
	Note      string
}

type PlaceCommand struct {
	CustomerID    types.ID
	PaymentMethod PaymentMethod
	AddressID     types.ID
	Lines         []CartLine
}

// Place assembles and persists a multi-shop order, then notifies each shop
// owner. The whole aggregate is written in one transaction; on failure
// nothing is visible.
func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (*Order, error) {
	if cmd.CustomerID == "" || len(cmd.Lines) == 0 || cmd.AddressID == "" {
		return nil, ErrValidation
	}
	if cmd.PaymentMethod != PaymentCashOnDelivery && cmd.PaymentMethod != PaymentOnline {
		return nil, ErrValidation
	}
	for _, l := range cmd.Lines {
		if l.ShopID == "" || l.Quantity <= 0 || l.UnitPrice < 0 {
			return nil, ErrValidation
		}
	}

	addr, err := s.dir.GetAddress(ctx, cmd.AddressID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrValidation
	}
	if err != nil {
		return nil, err
	}
	if addr.CustomerID != cmd.CustomerID {
		return nil, ErrValidation
	}

	// Group lines by shop, preserving first-seen shop order and line order
	// within each group.
	var shopIDs []types.ID
	grouped := make(map[types.ID][]CartLine)
	for _, l := range cmd.Lines {
		if _, seen := grouped[l.ShopID]; !seen {
			shopIDs = append(shopIDs, l.ShopID)
		}
		grouped[l.ShopID] = append(grouped[l.ShopID], l)
	}

	now := time.Now().UTC()
	o := &Order{
		ID:            types.ID(uuid.NewString()),
		CustomerID:    cmd.CustomerID,
		PaymentMethod: cmd.PaymentMethod,
		AddressID:     cmd.AddressID,
		CreatedAt:     now,
	}

	for _, shopID := range shopIDs {
		shop, err := s.dir.GetShop(ctx, shopID)
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		var subTotal int64
		items := make([]LineItem, 0, len(grouped[shopID]))
		for _, l := range grouped[shopID] {
			subTotal += l.UnitPrice * int64(l.Quantity)
			items = append(items, LineItem{
				ItemID:    l.ItemID,
				Name:      l.Name,
				UnitPrice: l.UnitPrice,
				Quantity:  l.Quantity,
				Note:      l.Note,
			})
		}

		dist := 0.0
		if shop.Location != nil {
			dist = geo.DistanceKm(addr.Location, *shop.Location)
		}
		fee := DeliveryFee(dist, shop.Location != nil, s.fees)

		o.ShopOrders = append(o.ShopOrders, ShopOrder{
			ID:             types.ID(uuid.NewString()),
			OrderID:        o.ID,
			ShopID:         shop.ID,
			OwnerID:        shop.OwnerID,
			SubTotal:       subTotal,
			DeliveryFee:    fee,
			PaymentSettled: cmd.PaymentMethod == PaymentOnline,
			DeliveryOTP:    newDeliveryOTP(),
			Status:         StatusPlaced,
			Items:          items,
		})
		o.TotalItemsPrice += subTotal
		o.TotalDeliveryFee += fee
	}
	o.TotalAmount = o.TotalItemsPrice + o.TotalDeliveryFee

	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	for i := range o.ShopOrders {
		so := &o.ShopOrders[i]
		s.appendEvent(ctx, so.ID, "", StatusPlaced, "customer", &cmd.CustomerID)
		s.notify(ctx, so.OwnerID, notify.EventNewOrder, map[string]any{
			"order_id":      o.ID,
			"shop_order_id": so.ID,
			"shop_id":       so.ShopID,
			"sub_total":     so.SubTotal,
			"delivery_fee":  so.DeliveryFee,
			"items":         len(so.Items),
		})
	}
	return o, nil
}

type UpdateStatusCommand struct {
	OrderID     types.ID
	ShopOrderID types.ID
	OwnerID     types.ID
	NewStatus   Status
}

// StatusUpdateResult carries the couriers matched when a transition into
// out_for_delivery triggered a dispatch. Empty Matches with Dispatched set
// means "no courier available right now"; that is not an error.
type StatusUpdateResult struct {
	Status     Status
	Dispatched bool
	Matches    []matching.Match
}

// UpdateStatus is the shop-owner transition path. Cancellation and delivery
// have dedicated guarded operations and are rejected here.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*StatusUpdateResult, error) {
	if !ValidStatus(cmd.NewStatus) {
		return nil, ErrValidation
	}
	if cmd.NewStatus == StatusCancelled || cmd.NewStatus == StatusDelivered {
		return nil, ErrInvalidState
	}

	so, err := s.getOwnedShopOrder(ctx, cmd.OrderID, cmd.ShopOrderID, cmd.OwnerID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(so.Status, cmd.NewStatus) {
		return nil, ErrInvalidState
	}

	ok, err := s.store.UpdateStatus(ctx, so.ID, so.Status, cmd.NewStatus, so.StatusVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.appendEvent(ctx, so.ID, so.Status, cmd.NewStatus, "owner", &cmd.OwnerID)

	res := &StatusUpdateResult{Status: cmd.NewStatus}
	o, err := s.store.GetOrder(ctx, so.OrderID)
	if err != nil {
		// Status is committed; the fan-out below is best-effort anyway.
		s.logger.Error().Err(err).Str("order_id", string(so.OrderID)).Msg("load order after status update")
		return res, nil
	}

	if cmd.NewStatus == StatusOutForDelivery && so.CourierID == nil {
		res.Dispatched = true
		res.Matches = s.dispatchCouriers(ctx, o, so)
	}

	s.notify(ctx, o.CustomerID, notify.EventStatusChanged, map[string]any{
		"order_id":      o.ID,
		"shop_order_id": so.ID,
		"status":        cmd.NewStatus,
	})
	return res, nil
}

// dispatchCouriers runs the matcher around the delivery address and offers
// the shop order to every available courier. Matcher or directory failures
// degrade to "no courier available"; the status change already committed.
func (s *Service) dispatchCouriers(ctx context.Context, o *Order, so *ShopOrder) []matching.Match {
	addr, err := s.dir.GetAddress(ctx, o.AddressID)
	if err != nil {
		s.logger.Error().Err(err).Str("address_id", string(o.AddressID)).Msg("dispatch: resolve address")
		return nil
	}
	matches, err := s.matcher.FindAvailable(ctx, addr.Location)
	if err != nil {
		s.logger.Error().Err(err).Str("shop_order_id", string(so.ID)).Msg("dispatch: courier search")
		return nil
	}

	items := make([]map[string]any, 0, len(so.Items))
	for _, it := range so.Items {
		items = append(items, map[string]any{
			"name":       it.Name,
			"unit_price": it.UnitPrice,
			"quantity":   it.Quantity,
		})
	}
	for _, m := range matches {
		s.notify(ctx, m.Courier.ID, notify.EventCourierAvailable, map[string]any{
			"order_id":      o.ID,
			"shop_order_id": so.ID,
			"shop_id":       so.ShopID,
			"customer_id":   o.CustomerID,
			"address":       addr.Detail,
			"deliver_to":    addr.Location,
			"sub_total":     so.SubTotal,
			"delivery_fee":  so.DeliveryFee,
			"items":         items,
			"distance_km":   m.DistanceKm,
		})
	}
	return matches
}

type CancelCommand struct {
	OrderID     types.ID
	ShopOrderID types.ID
	CustomerID  types.ID
	Reason      string
}

// Cancel rejects cancellation once a courier is dispatched or the shop order
// is closed.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	so, o, err := s.getCustomerShopOrder(ctx, cmd.OrderID, cmd.ShopOrderID, cmd.CustomerID)
	if err != nil {
		return err
	}
	switch so.Status {
	case StatusDelivered, StatusOutForDelivery, StatusCancelled:
		return ErrConflict
	}

	var reason *string
	if cmd.Reason != "" {
		reason = &cmd.Reason
	}
	ok, err := s.store.MarkCancelled(ctx, so.ID, so.Status, so.StatusVersion, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, so.ID, so.Status, StatusCancelled, "customer", &cmd.CustomerID)

	payload := map[string]any{
		"order_id":      o.ID,
		"shop_order_id": so.ID,
		"status":        StatusCancelled,
		"reason":        cmd.Reason,
	}
	s.notify(ctx, o.CustomerID, notify.EventStatusChanged, payload)
	s.notify(ctx, so.OwnerID, notify.EventStatusChanged, payload)
	return nil
}

type ClaimCommand struct {
	OrderID     types.ID
	ShopOrderID types.ID
	CourierID   types.ID
}

// Claim assigns the shop order to the courier. The busy pre-check is advisory
// (better error, may be stale); the conditional update on
// (status, courier_id) is the correctness boundary: concurrent claims get
// exactly one winner and losers a uniform rejection.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*ShopOrder, error) {
	busy, err := s.store.HasActiveDelivery(ctx, cmd.CourierID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrCourierBusy
	}

	ok, err := s.store.Claim(ctx, cmd.ShopOrderID, cmd.OrderID, cmd.CourierID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}

	so, err := s.store.GetShopOrder(ctx, cmd.ShopOrderID)
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, so.ID, StatusOutForDelivery, StatusOutForDelivery, "courier", &cmd.CourierID)

	payload := map[string]any{
		"order_id":      so.OrderID,
		"shop_order_id": so.ID,
		"courier_id":    cmd.CourierID,
	}
	if profile, err := s.dir.GetCourier(ctx, cmd.CourierID); err == nil {
		payload["courier_name"] = profile.Name
		payload["courier_phone"] = profile.Phone
	}
	if o, err := s.store.GetOrder(ctx, so.OrderID); err == nil {
		s.notify(ctx, o.CustomerID, notify.EventCourierAssigned, payload)
	}
	s.notify(ctx, so.OwnerID, notify.EventCourierAssigned, payload)
	return so, nil
}

type VerifyOTPCommand struct {
	OrderID     types.ID
	ShopOrderID types.ID
	CourierID   types.ID
	OTP         string
}

// VerifyOTP is the courier's terminal confirmation: code match closes the
// delivery and settles cash payments.
func (s *Service) VerifyOTP(ctx context.Context, cmd VerifyOTPCommand) (*ShopOrder, error) {
	if !validOTPFormat(cmd.OTP) {
		return nil, ErrOTPMismatch
	}

	so, err := s.store.GetShopOrder(ctx, cmd.ShopOrderID)
	if err != nil {
		return nil, err
	}
	if so.OrderID != cmd.OrderID {
		return nil, ErrNotFound
	}
	if so.CourierID == nil || *so.CourierID != cmd.CourierID {
		return nil, ErrNotFound
	}
	if so.Status != StatusOutForDelivery {
		return nil, ErrInvalidState
	}
	if so.DeliveryOTP != cmd.OTP {
		return nil, ErrOTPMismatch
	}

	now := time.Now().UTC()
	ok, err := s.store.MarkDelivered(ctx, so.ID, so.StatusVersion, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.appendEvent(ctx, so.ID, StatusOutForDelivery, StatusDelivered, "courier", &cmd.CourierID)

	so.Status = StatusDelivered
	so.PaymentSettled = true
	so.DeliveredAt = &now

	payload := map[string]any{
		"order_id":      so.OrderID,
		"shop_order_id": so.ID,
		"status":        StatusDelivered,
		"delivered_at":  now,
	}
	if o, err := s.store.GetOrder(ctx, so.OrderID); err == nil {
		s.notify(ctx, o.CustomerID, notify.EventStatusChanged, payload)
	}
	s.notify(ctx, so.OwnerID, notify.EventStatusChanged, payload)
	return so, nil
}

// SettlePayment is the out-of-band gateway callback: marks every shop order
// of the order as settled.
func (s *Service) SettlePayment(ctx context.Context, orderID types.ID) error {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return err
	}
	return s.store.SettleOrder(ctx, orderID)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID types.ID) ([]Order, error) {
	return s.store.ListByCustomer(ctx, customerID)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID types.ID) ([]ShopOrder, error) {
	return s.store.ListShopOrdersByOwner(ctx, ownerID)
}

func (s *Service) ActiveDelivery(ctx context.Context, courierID types.ID) (*ShopOrder, error) {
	so, err := s.store.ActiveByCourier(ctx, courierID)
	if err != nil {
		return nil, err
	}
	if so == nil {
		return nil, ErrNotFound
	}
	return so, nil
}

func (s *Service) DeliveredFor(ctx context.Context, courierID types.ID) ([]ShopOrder, error) {
	return s.store.DeliveredByCourier(ctx, courierID)
}

// AvailableShopOrder is a dispatched, unclaimed shop order within reach of
// the querying courier.
type AvailableShopOrder struct {
	Dispatchable
	DistanceKm float64
}

// AvailableFor lists dispatched unclaimed shop orders within the operational
// radius of the courier's last-known position. A courier with no position on
// record sees nothing.
func (s *Service) AvailableFor(ctx context.Context, courierID types.ID) ([]AvailableShopOrder, error) {
	pos, err := s.locator.Position(ctx, courierID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}

	open, err := s.store.ListDispatchable(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableShopOrder, 0, len(open))
	for _, d := range open {
		dist := geo.DistanceKm(*pos, d.DeliverTo)
		if dist > s.radiusKm {
			continue
		}
		out = append(out, AvailableShopOrder{Dispatchable: d, DistanceKm: dist})
	}
	geo.SortByDistance(out, func(a AvailableShopOrder) float64 { return a.DistanceKm })
	return out, nil
}

func (s *Service) getOwnedShopOrder(ctx context.Context, orderID, shopOrderID, ownerID types.ID) (*ShopOrder, error) {
	so, err := s.store.GetShopOrder(ctx, shopOrderID)
	if err != nil {
		return nil, err
	}
	if so.OrderID != orderID || so.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return so, nil
}

func (s *Service) getCustomerShopOrder(ctx context.Context, orderID, shopOrderID, customerID types.ID) (*ShopOrder, *Order, error) {
	so, err := s.store.GetShopOrder(ctx, shopOrderID)
	if err != nil {
		return nil, nil, err
	}
	if so.OrderID != orderID {
		return nil, nil, ErrNotFound
	}
	o, err := s.store.GetOrder(ctx, so.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if o.CustomerID != customerID {
		return nil, nil, ErrNotFound
	}
	return so, o, nil
}

func (s *Service) appendEvent(ctx context.Context, shopOrderID types.ID, from, to Status, actorType string, actorID *types.ID) {
	err := s.store.AppendEvent(ctx, &Event{
		ShopOrderID: shopOrderID,
		FromStatus:  from,
		ToStatus:    to,
		ActorType:   actorType,
		ActorID:     actorID,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("shop_order_id", string(shopOrderID)).Msg("append order event")
	}
}

// notify is fire-and-forget: dispatcher outcomes never affect the operation.
func (s *Service) notify(ctx context.Context, recipient types.ID, t notify.EventType, payload map[string]any) {
	if s.dispatch == nil {
		return
	}
	s.dispatch.Notify(ctx, recipient, notify.NewEvent(t, payload))
}
