// README: Shop, address and courier reference data consumed by the order core.
package directory

import "foodcourt/internal/types"

// Shop as the order core sees it. Location is nil for shops that never
// registered coordinates; those get the base delivery fee only.
type Shop struct {
	ID       types.ID
	OwnerID  types.ID
	Name     string
	Address  string
	Location *types.Point
}

// Address is a customer delivery destination. Coordinates are read at order
// placement; the computed fee is then frozen into the order.
type Address struct {
	ID         types.ID
	CustomerID types.ID
	Label      string
	Detail     string
	Location   types.Point
}

// CourierProfile is the identity/contact snapshot attached to match results
// and courier-assigned notifications.
type CourierProfile struct {
	ID    types.ID
	Name  string
	Phone string
}
