// README: Order aggregate, per-shop sub-orders and status definitions.
package order

import (
	"time"

	"foodcourt/internal/types"
)

type Status string

const (
	StatusPlaced         Status = "placed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash-on-delivery"
	PaymentOnline         PaymentMethod = "online"
)

// Order is the root aggregate: one checkout, possibly spanning several shops.
// Progress lives on the ShopOrders; the order itself has no status of its own.
type Order struct {
	ID              types.ID
	CustomerID      types.ID
	PaymentMethod   PaymentMethod
	AddressID       types.ID
	TotalItemsPrice int64
	TotalDeliveryFee int64
	TotalAmount     int64
	CreatedAt       time.Time
	ShopOrders      []ShopOrder
}

// ShopOrder is one shop's fulfilment unit: the unit of status tracking and
// courier assignment. CourierID is set exactly once, by the claim CAS.
type ShopOrder struct {
	ID             types.ID
	OrderID        types.ID
	ShopID         types.ID
	OwnerID        types.ID
	SubTotal       int64
	DeliveryFee    int64
	PaymentSettled bool
	DeliveryOTP    string
	CourierID      *types.ID
	Status         Status
	StatusVersion  int
	CancelReason   *string
	DeliveredAt    *time.Time
	Items          []LineItem
}

// LineItem snapshots name and price at order time; later catalog edits do not
// touch placed orders.
type LineItem struct {
	ItemID    types.ID
	Name      string
	UnitPrice int64
	Quantity  int
	Note      string
}

type Event struct {
	ID          int64
	ShopOrderID types.ID
	FromStatus  Status
	ToStatus    Status
	ActorType   string
	ActorID     *types.ID
	CreatedAt   time.Time
}

// AllowedTransitions encodes the per-shop-order state graph. Owners may skip
// the ready staging step and dispatch straight from preparing; nothing leaves
// delivered or cancelled.
var AllowedTransitions = map[Status][]Status{
	StatusPlaced:         {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusOutForDelivery, StatusCancelled},
	StatusReady:          {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a member of the closed status set.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPlaced, StatusPreparing, StatusReady, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}
