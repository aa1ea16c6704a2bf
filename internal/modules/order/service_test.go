// README: Order service tests against an in-memory store (placement, guards, fan-out).
package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"foodcourt/internal/modules/directory"
	"foodcourt/internal/modules/matching"
	"foodcourt/internal/notify"
	"foodcourt/internal/types"
)

// ---------------------------------------------------------------------------
// In-memory test doubles
// ---------------------------------------------------------------------------

type memStore struct {
	mu         sync.Mutex
	orders     map[types.ID]*Order
	shopOrders map[types.ID]*ShopOrder
	addrPoints map[types.ID]types.Point
	events     []Event
	createErr  error
}

func newMemStore() *memStore {
	return &memStore{
		orders:     make(map[types.ID]*Order),
		shopOrders: make(map[types.ID]*ShopOrder),
		addrPoints: make(map[types.ID]types.Point),
	}
}

func (m *memStore) CreateOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *o
	m.orders[o.ID] = &cp
	for i := range o.ShopOrders {
		so := o.ShopOrders[i]
		m.shopOrders[so.ID] = &so
	}
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.ShopOrders = nil
	for _, so := range m.shopOrders {
		if so.OrderID == id {
			cp.ShopOrders = append(cp.ShopOrders, *so)
		}
	}
	return &cp, nil
}

func (m *memStore) GetShopOrder(_ context.Context, id types.ID) (*ShopOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, ok := m.shopOrders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *so
	return &cp, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, ok := m.shopOrders[id]
	if !ok || so.Status != from || so.StatusVersion != version {
		return false, nil
	}
	so.Status = to
	so.StatusVersion++
	return true, nil
}

func (m *memStore) MarkCancelled(_ context.Context, id types.ID, from Status, version int, reason *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, ok := m.shopOrders[id]
	if !ok || so.Status != from || so.StatusVersion != version {
		return false, nil
	}
	so.Status = StatusCancelled
	so.StatusVersion++
	so.CancelReason = reason
	return true, nil
}

func (m *memStore) MarkDelivered(_ context.Context, id types.ID, version int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, ok := m.shopOrders[id]
	if !ok || so.Status != StatusOutForDelivery || so.StatusVersion != version {
		return false, nil
	}
	so.Status = StatusDelivered
	so.StatusVersion++
	so.PaymentSettled = true
	t := at
	so.DeliveredAt = &t
	return true, nil
}

func (m *memStore) Claim(_ context.Context, shopOrderID, orderID, courierID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, ok := m.shopOrders[shopOrderID]
	if !ok || so.OrderID != orderID || so.Status != StatusOutForDelivery || so.CourierID != nil {
		return false, nil
	}
	id := courierID
	so.CourierID = &id
	return true, nil
}

func (m *memStore) HasActiveDelivery(_ context.Context, courierID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, so := range m.shopOrders {
		if so.CourierID != nil && *so.CourierID == courierID && so.Status == StatusOutForDelivery {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) BusyCouriers(_ context.Context, ids []types.ID) ([]types.ID, error) {
	var busy []types.ID
	for _, id := range ids {
		if b, _ := m.HasActiveDelivery(context.Background(), id); b {
			busy = append(busy, id)
		}
	}
	return busy, nil
}

func (m *memStore) ListByCustomer(_ context.Context, customerID types.ID) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for id, o := range m.orders {
		if o.CustomerID != customerID {
			continue
		}
		cp := *o
		cp.ShopOrders = nil
		for _, so := range m.shopOrders {
			if so.OrderID == id {
				cp.ShopOrders = append(cp.ShopOrders, *so)
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *memStore) ListShopOrdersByOwner(_ context.Context, ownerID types.ID) ([]ShopOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ShopOrder
	for _, so := range m.shopOrders {
		if so.OwnerID == ownerID {
			out = append(out, *so)
		}
	}
	return out, nil
}

func (m *memStore) ActiveByCourier(_ context.Context, courierID types.ID) (*ShopOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, so := range m.shopOrders {
		if so.CourierID != nil && *so.CourierID == courierID && so.Status == StatusOutForDelivery {
			cp := *so
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) DeliveredByCourier(_ context.Context, courierID types.ID) ([]ShopOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ShopOrder
	for _, so := range m.shopOrders {
		if so.CourierID != nil && *so.CourierID == courierID && so.Status == StatusDelivered {
			out = append(out, *so)
		}
	}
	return out, nil
}

func (m *memStore) ListDispatchable(_ context.Context) ([]Dispatchable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Dispatchable
	for _, so := range m.shopOrders {
		if so.Status != StatusOutForDelivery || so.CourierID != nil {
			continue
		}
		o := m.orders[so.OrderID]
		out = append(out, Dispatchable{
			ShopOrder: *so,
			DeliverTo: m.addrPoints[o.AddressID],
		})
	}
	return out, nil
}

func (m *memStore) SettleOrder(_ context.Context, orderID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, so := range m.shopOrders {
		if so.OrderID == orderID {
			so.PaymentSettled = true
		}
	}
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) setStatus(t *testing.T, id types.ID, s Status) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	so, ok := m.shopOrders[id]
	if !ok {
		t.Fatalf("shop order %s not in store", id)
	}
	so.Status = s
}

type mockDirectory struct {
	shops     map[types.ID]*directory.Shop
	addresses map[types.ID]*directory.Address
	couriers  map[types.ID]*directory.CourierProfile
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		shops:     make(map[types.ID]*directory.Shop),
		addresses: make(map[types.ID]*directory.Address),
		couriers:  make(map[types.ID]*directory.CourierProfile),
	}
}

func (d *mockDirectory) GetShop(_ context.Context, id types.ID) (*directory.Shop, error) {
	if s, ok := d.shops[id]; ok {
		return s, nil
	}
	return nil, directory.ErrNotFound
}

func (d *mockDirectory) GetAddress(_ context.Context, id types.ID) (*directory.Address, error) {
	if a, ok := d.addresses[id]; ok {
		return a, nil
	}
	return nil, directory.ErrNotFound
}

func (d *mockDirectory) GetCourier(_ context.Context, id types.ID) (*directory.CourierProfile, error) {
	if c, ok := d.couriers[id]; ok {
		return c, nil
	}
	return nil, directory.ErrNotFound
}

type stubMatcher struct {
	matches []matching.Match
	err     error
	calls   int
}

func (s *stubMatcher) FindAvailable(_ context.Context, _ types.Point) ([]matching.Match, error) {
	s.calls++
	return s.matches, s.err
}

type stubLocator struct {
	positions map[types.ID]*types.Point
}

func (s *stubLocator) Position(_ context.Context, id types.ID) (*types.Point, error) {
	return s.positions[id], nil
}

type sentEvent struct {
	recipient types.ID
	ev        notify.Event
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (r *recordingDispatcher) Notify(_ context.Context, recipient types.ID, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEvent{recipient: recipient, ev: ev})
}

func (r *recordingDispatcher) byType(t notify.EventType) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentEvent
	for _, s := range r.sent {
		if s.ev.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store    *memStore
	dir      *mockDirectory
	matcher  *stubMatcher
	locator  *stubLocator
	dispatch *recordingDispatcher
	svc      *Service
}

// Address at the origin point; shop A ~1 km away, shop B ~5.5 km away,
// shop C without coordinates.
func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		dir:      newMockDirectory(),
		matcher:  &stubMatcher{},
		locator:  &stubLocator{positions: make(map[types.ID]*types.Point)},
		dispatch: &recordingDispatcher{},
	}

	addrPoint := types.Point{Lat: 10.7600, Lng: 106.6800}
	f.dir.addresses["addr-1"] = &directory.Address{
		ID: "addr-1", CustomerID: "cust-1", Label: "home", Detail: "12 Nguyen Hue", Location: addrPoint,
	}
	f.store.addrPoints["addr-1"] = addrPoint

	// 1 km north: 1/111.195 degrees of latitude.
	f.dir.shops["shop-a"] = &directory.Shop{
		ID: "shop-a", OwnerID: "owner-a", Name: "Pho 24",
		Location: &types.Point{Lat: 10.7600 + 0.0089932, Lng: 106.6800},
	}
	// 5.5 km north.
	f.dir.shops["shop-b"] = &directory.Shop{
		ID: "shop-b", OwnerID: "owner-b", Name: "Banh Mi Huynh Hoa",
		Location: &types.Point{Lat: 10.7600 + 0.0494626, Lng: 106.6800},
	}
	f.dir.shops["shop-c"] = &directory.Shop{
		ID: "shop-c", OwnerID: "owner-c", Name: "Ghost Kitchen",
	}
	f.dir.couriers["courier-1"] = &directory.CourierProfile{ID: "courier-1", Name: "Minh", Phone: "0901234567"}

	f.svc = NewService(ServiceDeps{
		Store:    f.store,
		Dir:      f.dir,
		Matcher:  f.matcher,
		Locator:  f.locator,
		Dispatch: f.dispatch,
		Fees:     DefaultFeeTier(),
		RadiusKm: 10,
		Logger:   zerolog.Nop(),
	})
	return f
}

func (f *fixture) place(t *testing.T, cmd PlaceCommand) *Order {
	t.Helper()
	o, err := f.svc.Place(context.Background(), cmd)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return o
}

func twoShopCart() PlaceCommand {
	return PlaceCommand{
		CustomerID:    "cust-1",
		PaymentMethod: PaymentCashOnDelivery,
		AddressID:     "addr-1",
		Lines: []CartLine{
			{ItemID: "i1", ShopID: "shop-a", Name: "Pho bo", UnitPrice: 50000, Quantity: 2},
			{ItemID: "i2", ShopID: "shop-b", Name: "Banh mi", UnitPrice: 25000, Quantity: 2},
		},
	}
}

// ---------------------------------------------------------------------------
// Placement
// ---------------------------------------------------------------------------

func TestPlace_TwoShopTotals(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())

	if len(o.ShopOrders) != 2 {
		t.Fatalf("expected 2 shop orders, got %d", len(o.ShopOrders))
	}
	// shop-a: 1 km inside the free radius; shop-b: 5.5 km → 15000 + 3*5000.
	if o.ShopOrders[0].SubTotal != 100000 || o.ShopOrders[0].DeliveryFee != 15000 {
		t.Fatalf("shop-a: subtotal %d fee %d", o.ShopOrders[0].SubTotal, o.ShopOrders[0].DeliveryFee)
	}
	if o.ShopOrders[1].SubTotal != 50000 || o.ShopOrders[1].DeliveryFee != 30000 {
		t.Fatalf("shop-b: subtotal %d fee %d", o.ShopOrders[1].SubTotal, o.ShopOrders[1].DeliveryFee)
	}
	if o.TotalItemsPrice != 150000 || o.TotalDeliveryFee != 45000 || o.TotalAmount != 195000 {
		t.Fatalf("totals: items %d delivery %d amount %d", o.TotalItemsPrice, o.TotalDeliveryFee, o.TotalAmount)
	}
	if o.TotalAmount != o.TotalItemsPrice+o.TotalDeliveryFee {
		t.Fatal("total amount invariant broken")
	}
	for _, so := range o.ShopOrders {
		if so.Status != StatusPlaced {
			t.Fatalf("expected placed, got %s", so.Status)
		}
		if !validOTPFormat(so.DeliveryOTP) {
			t.Fatalf("bad OTP %q", so.DeliveryOTP)
		}
		if so.PaymentSettled {
			t.Fatal("cash order must not be settled at placement")
		}
	}
}

func TestPlace_OnlinePaymentIsPreSettled(t *testing.T) {
	f := newFixture()
	cmd := twoShopCart()
	cmd.PaymentMethod = PaymentOnline
	o := f.place(t, cmd)

	for _, so := range o.ShopOrders {
		if !so.PaymentSettled {
			t.Fatal("online order must be settled at placement")
		}
	}
}

func TestPlace_ShopWithoutCoordinatesGetsBaseFee(t *testing.T) {
	f := newFixture()
	o := f.place(t, PlaceCommand{
		CustomerID:    "cust-1",
		PaymentMethod: PaymentCashOnDelivery,
		AddressID:     "addr-1",
		Lines:         []CartLine{{ItemID: "i9", ShopID: "shop-c", Name: "Mystery box", UnitPrice: 80000, Quantity: 1}},
	})
	if o.ShopOrders[0].DeliveryFee != 15000 {
		t.Fatalf("expected base fee, got %d", o.ShopOrders[0].DeliveryFee)
	}
}

func TestPlace_GroupsByShopPreservingLineOrder(t *testing.T) {
	f := newFixture()
	o := f.place(t, PlaceCommand{
		CustomerID:    "cust-1",
		PaymentMethod: PaymentCashOnDelivery,
		AddressID:     "addr-1",
		Lines: []CartLine{
			{ItemID: "a1", ShopID: "shop-a", Name: "Pho bo", UnitPrice: 50000, Quantity: 1},
			{ItemID: "b1", ShopID: "shop-b", Name: "Banh mi", UnitPrice: 25000, Quantity: 1},
			{ItemID: "a2", ShopID: "shop-a", Name: "Goi cuon", UnitPrice: 30000, Quantity: 1},
		},
	})
	if len(o.ShopOrders) != 2 {
		t.Fatalf("expected 2 shop orders, got %d", len(o.ShopOrders))
	}
	first := o.ShopOrders[0]
	if first.ShopID != "shop-a" || len(first.Items) != 2 {
		t.Fatalf("first group: shop %s items %d", first.ShopID, len(first.Items))
	}
	if first.Items[0].ItemID != "a1" || first.Items[1].ItemID != "a2" {
		t.Fatalf("line order not preserved: %v", first.Items)
	}
}

func TestPlace_ValidationFailures(t *testing.T) {
	f := newFixture()
	base := twoShopCart()

	cases := []struct {
		name   string
		mutate func(*PlaceCommand)
		want   error
	}{
		{"empty cart", func(c *PlaceCommand) { c.Lines = nil }, ErrValidation},
		{"missing address", func(c *PlaceCommand) { c.AddressID = "" }, ErrValidation},
		{"unknown address", func(c *PlaceCommand) { c.AddressID = "addr-nope" }, ErrValidation},
		{"foreign address", func(c *PlaceCommand) { c.CustomerID = "cust-2" }, ErrValidation},
		{"bad payment method", func(c *PlaceCommand) { c.PaymentMethod = "iou" }, ErrValidation},
		{"zero quantity", func(c *PlaceCommand) { c.Lines[0].Quantity = 0 }, ErrValidation},
		{"unknown shop", func(c *PlaceCommand) { c.Lines[0].ShopID = "shop-nope" }, ErrNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cmd := base
			cmd.Lines = append([]CartLine(nil), base.Lines...)
			c.mutate(&cmd)
			if _, err := f.svc.Place(context.Background(), cmd); !errors.Is(err, c.want) {
				t.Fatalf("got %v, want %v", err, c.want)
			}
		})
	}
}

func TestPlace_NotifiesEachShopOwner(t *testing.T) {
	f := newFixture()
	f.place(t, twoShopCart())

	got := f.dispatch.byType(notify.EventNewOrder)
	if len(got) != 2 {
		t.Fatalf("expected 2 new-order events, got %d", len(got))
	}
	recipients := map[types.ID]bool{got[0].recipient: true, got[1].recipient: true}
	if !recipients["owner-a"] || !recipients["owner-b"] {
		t.Fatalf("unexpected recipients: %v", recipients)
	}
}

func TestPlace_PersistenceFailureYieldsNoNotifications(t *testing.T) {
	f := newFixture()
	f.store.createErr = errors.New("db down")

	if _, err := f.svc.Place(context.Background(), twoShopCart()); err == nil {
		t.Fatal("expected persistence error")
	}
	if len(f.dispatch.sent) != 0 {
		t.Fatalf("no notifications expected on failed placement, got %d", len(f.dispatch.sent))
	}
}

// ---------------------------------------------------------------------------
// Status updates and dispatch
// ---------------------------------------------------------------------------

func TestUpdateStatus_HappyPath(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]

	res, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
		OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-a", NewStatus: StatusPreparing,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if res.Status != StatusPreparing || res.Dispatched {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored, _ := f.store.GetShopOrder(context.Background(), so.ID)
	if stored.Status != StatusPreparing || stored.StatusVersion != so.StatusVersion+1 {
		t.Fatalf("stored: status %s version %d", stored.Status, stored.StatusVersion)
	}
	if len(f.dispatch.byType(notify.EventStatusChanged)) != 1 {
		t.Fatal("expected one status-changed notification to the customer")
	}
}

func TestUpdateStatus_RejectsIllegalJump(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]

	_, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
		OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-a", NewStatus: StatusOutForDelivery,
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("placed→out_for_delivery should be rejected, got %v", err)
	}
}

func TestUpdateStatus_RejectsReservedTargets(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]

	for _, target := range []Status{StatusCancelled, StatusDelivered} {
		_, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
			OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-a", NewStatus: target,
		})
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("target %s: got %v, want ErrInvalidState", target, err)
		}
	}

	_, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
		OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-a", NewStatus: "shipped",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status: got %v, want ErrValidation", err)
	}
}

func TestUpdateStatus_WrongOwnerIsNotFound(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]

	_, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
		OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-b", NewStatus: StatusPreparing,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus_DispatchNotifiesMatchedCouriers(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]
	f.store.setStatus(t, so.ID, StatusReady)

	f.matcher.matches = []matching.Match{
		{Courier: directory.CourierProfile{ID: "courier-1", Name: "Minh"}, DistanceKm: 1.1},
		{Courier: directory.CourierProfile{ID: "courier-2", Name: "Lan"}, DistanceKm: 2.4},
	}

	res, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
		OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-a", NewStatus: StatusOutForDelivery,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if !res.Dispatched || len(res.Matches) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.matcher.calls != 1 {
		t.Fatalf("matcher called %d times", f.matcher.calls)
	}

	offers := f.dispatch.byType(notify.EventCourierAvailable)
	if len(offers) != 2 {
		t.Fatalf("expected 2 courier-available events, got %d", len(offers))
	}
	for _, offer := range offers {
		if offer.ev.Payload["shop_order_id"] != so.ID {
			t.Fatalf("offer payload references %v", offer.ev.Payload["shop_order_id"])
		}
	}
	if len(f.dispatch.byType(notify.EventStatusChanged)) != 1 {
		t.Fatal("customer must still learn about the status change")
	}
}

func TestUpdateStatus_NoCourierAvailableIsNotAnError(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]
	f.store.setStatus(t, so.ID, StatusReady)

	res, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
		OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-a", NewStatus: StatusOutForDelivery,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if !res.Dispatched || len(res.Matches) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	stored, _ := f.store.GetShopOrder(context.Background(), so.ID)
	if stored.Status != StatusOutForDelivery {
		t.Fatalf("status must commit even without couriers, got %s", stored.Status)
	}
}

func TestUpdateStatus_MatcherFailureDegradesToNoCouriers(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]
	f.store.setStatus(t, so.ID, StatusReady)
	f.matcher.err = errors.New("redis down")

	res, err := f.svc.UpdateStatus(context.Background(), UpdateStatusCommand{
		OrderID: o.ID, ShopOrderID: so.ID, OwnerID: "owner-a", NewStatus: StatusOutForDelivery,
	})
	if err != nil {
		t.Fatalf("matcher failure must not fail the request: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(res.Matches))
	}
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

func TestCancel_PlacedSucceeds(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]

	err := f.svc.Cancel(context.Background(), CancelCommand{
		OrderID: o.ID, ShopOrderID: so.ID, CustomerID: "cust-1", Reason: "changed my mind",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, _ := f.store.GetShopOrder(context.Background(), so.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if stored.CancelReason == nil || *stored.CancelReason != "changed my mind" {
		t.Fatalf("reason not recorded: %v", stored.CancelReason)
	}
	// customer and owner both hear about it
	if len(f.dispatch.byType(notify.EventStatusChanged)) != 2 {
		t.Fatal("expected status-changed to customer and owner")
	}
}

func TestCancel_GuardedStates(t *testing.T) {
	for _, blocked := range []Status{StatusOutForDelivery, StatusDelivered, StatusCancelled} {
		t.Run(string(blocked), func(t *testing.T) {
			f := newFixture()
			o := f.place(t, twoShopCart())
			so := o.ShopOrders[0]
			f.store.setStatus(t, so.ID, blocked)

			err := f.svc.Cancel(context.Background(), CancelCommand{
				OrderID: o.ID, ShopOrderID: so.ID, CustomerID: "cust-1",
			})
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("cancel at %s: got %v, want ErrConflict", blocked, err)
			}
			stored, _ := f.store.GetShopOrder(context.Background(), so.ID)
			if stored.Status != blocked {
				t.Fatalf("state must be unchanged, got %s", stored.Status)
			}
		})
	}
}

func TestCancel_ForeignCustomerIsNotFound(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]

	err := f.svc.Cancel(context.Background(), CancelCommand{
		OrderID: o.ID, ShopOrderID: so.ID, CustomerID: "cust-2",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func dispatchShopOrder(t *testing.T, f *fixture) (o *Order, so ShopOrder) {
	t.Helper()
	o = f.place(t, twoShopCart())
	so = o.ShopOrders[0]
	f.store.setStatus(t, so.ID, StatusOutForDelivery)
	return o, so
}

func TestClaim_Succeeds(t *testing.T) {
	f := newFixture()
	o, so := dispatchShopOrder(t, f)

	got, err := f.svc.Claim(context.Background(), ClaimCommand{
		OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-1",
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.CourierID == nil || *got.CourierID != "courier-1" {
		t.Fatalf("courier not assigned: %v", got.CourierID)
	}

	assigned := f.dispatch.byType(notify.EventCourierAssigned)
	if len(assigned) != 2 {
		t.Fatalf("expected courier-assigned to customer and owner, got %d", len(assigned))
	}
	for _, ev := range assigned {
		if ev.ev.Payload["courier_phone"] != "0901234567" {
			t.Fatalf("courier contact missing from payload: %v", ev.ev.Payload)
		}
	}
}

func TestClaim_SecondClaimRejectedUniformly(t *testing.T) {
	f := newFixture()
	o, so := dispatchShopOrder(t, f)

	if _, err := f.svc.Claim(context.Background(), ClaimCommand{OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-1"}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := f.svc.Claim(context.Background(), ClaimCommand{OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-2"})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("got %v, want ErrAlreadyClaimed", err)
	}
}

func TestClaim_BusyCourierRejected(t *testing.T) {
	f := newFixture()
	o, so := dispatchShopOrder(t, f)

	if _, err := f.svc.Claim(context.Background(), ClaimCommand{OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-1"}); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// Same courier tries the second shop order of the same checkout.
	other := o.ShopOrders[1]
	f.store.setStatus(t, other.ID, StatusOutForDelivery)
	_, err := f.svc.Claim(context.Background(), ClaimCommand{OrderID: o.ID, ShopOrderID: other.ID, CourierID: "courier-1"})
	if !errors.Is(err, ErrCourierBusy) {
		t.Fatalf("got %v, want ErrCourierBusy", err)
	}
}

func TestClaim_NotDispatchedRejected(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())
	so := o.ShopOrders[0]

	_, err := f.svc.Claim(context.Background(), ClaimCommand{OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-1"})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("claiming a placed shop order: got %v, want ErrAlreadyClaimed", err)
	}
}

// ---------------------------------------------------------------------------
// OTP verification
// ---------------------------------------------------------------------------

func claimedShopOrder(t *testing.T, f *fixture) (o *Order, so *ShopOrder) {
	t.Helper()
	oo, s := dispatchShopOrder(t, f)
	claimed, err := f.svc.Claim(context.Background(), ClaimCommand{OrderID: oo.ID, ShopOrderID: s.ID, CourierID: "courier-1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return oo, claimed
}

func TestVerifyOTP_CorrectCodeDelivers(t *testing.T) {
	f := newFixture()
	o, so := claimedShopOrder(t, f)

	got, err := f.svc.VerifyOTP(context.Background(), VerifyOTPCommand{
		OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-1", OTP: so.DeliveryOTP,
	})
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if got.Status != StatusDelivered || !got.PaymentSettled || got.DeliveredAt == nil {
		t.Fatalf("unexpected result: %+v", got)
	}

	stored, _ := f.store.GetShopOrder(context.Background(), so.ID)
	if stored.Status != StatusDelivered || !stored.PaymentSettled || stored.DeliveredAt == nil {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestVerifyOTP_WrongCodeLeavesStateUnchanged(t *testing.T) {
	f := newFixture()
	o, so := claimedShopOrder(t, f)

	wrong := "0000"
	if so.DeliveryOTP == wrong {
		wrong = "0001"
	}
	_, err := f.svc.VerifyOTP(context.Background(), VerifyOTPCommand{
		OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-1", OTP: wrong,
	})
	if !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("got %v, want ErrOTPMismatch", err)
	}

	stored, _ := f.store.GetShopOrder(context.Background(), so.ID)
	if stored.Status != StatusOutForDelivery || stored.PaymentSettled || stored.DeliveredAt != nil {
		t.Fatalf("state must be unchanged: %+v", stored)
	}
}

func TestVerifyOTP_MalformedCode(t *testing.T) {
	f := newFixture()
	o, so := claimedShopOrder(t, f)

	for _, bad := range []string{"", "12", "12345", "abcd"} {
		_, err := f.svc.VerifyOTP(context.Background(), VerifyOTPCommand{
			OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-1", OTP: bad,
		})
		if !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("otp %q: got %v, want ErrOTPMismatch", bad, err)
		}
	}
}

func TestVerifyOTP_WrongCourierIsNotFound(t *testing.T) {
	f := newFixture()
	o, so := claimedShopOrder(t, f)

	_, err := f.svc.VerifyOTP(context.Background(), VerifyOTPCommand{
		OrderID: o.ID, ShopOrderID: so.ID, CourierID: "courier-9", OTP: so.DeliveryOTP,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Courier queries and settlement
// ---------------------------------------------------------------------------

func TestAvailableFor_FiltersByRadiusAndSortsNearestFirst(t *testing.T) {
	f := newFixture()
	_, _ = dispatchShopOrder(t, f)

	// Second dispatched order for a different customer address far away.
	farPoint := types.Point{Lat: 11.9, Lng: 106.68}
	f.dir.addresses["addr-far"] = &directory.Address{ID: "addr-far", CustomerID: "cust-1", Location: farPoint}
	f.store.addrPoints["addr-far"] = farPoint
	cmd := twoShopCart()
	cmd.AddressID = "addr-far"
	o2 := f.place(t, cmd)
	f.store.setStatus(t, o2.ShopOrders[0].ID, StatusOutForDelivery)

	pos := types.Point{Lat: 10.7650, Lng: 106.6800}
	f.locator.positions["courier-1"] = &pos

	avail, err := f.svc.AvailableFor(context.Background(), "courier-1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 1 {
		t.Fatalf("expected 1 nearby shop order, got %d", len(avail))
	}
	if avail[0].DistanceKm > 10 {
		t.Fatalf("returned shop order outside radius: %f km", avail[0].DistanceKm)
	}
}

func TestAvailableFor_NoPositionMeansNothing(t *testing.T) {
	f := newFixture()
	dispatchShopOrder(t, f)

	avail, err := f.svc.AvailableFor(context.Background(), "courier-ghost")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 0 {
		t.Fatalf("courier without a position must see nothing, got %d", len(avail))
	}
}

func TestActiveDelivery(t *testing.T) {
	f := newFixture()
	_, so := claimedShopOrder(t, f)

	active, err := f.svc.ActiveDelivery(context.Background(), "courier-1")
	if err != nil {
		t.Fatalf("active delivery: %v", err)
	}
	if active.ID != so.ID {
		t.Fatalf("got %s, want %s", active.ID, so.ID)
	}

	if _, err := f.svc.ActiveDelivery(context.Background(), "courier-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("idle courier: got %v, want ErrNotFound", err)
	}
}

func TestSettlePayment(t *testing.T) {
	f := newFixture()
	o := f.place(t, twoShopCart())

	if err := f.svc.SettlePayment(context.Background(), o.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	for _, so := range o.ShopOrders {
		stored, _ := f.store.GetShopOrder(context.Background(), so.ID)
		if !stored.PaymentSettled {
			t.Fatalf("shop order %s not settled", so.ID)
		}
	}

	if err := f.svc.SettlePayment(context.Background(), "order-nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
