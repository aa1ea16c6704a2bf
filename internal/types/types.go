// README: Common identifier and coordinate value types shared across modules.
package types

// ID identifies users, shops, orders and couriers. Opaque string, usually a UUID.
type ID string

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
