// README: Courier match results and operational constants.
package matching

import (
	"foodcourt/internal/modules/directory"
	"foodcourt/internal/types"
)

// Match is one available courier: identity/contact for notification and
// presentation, plus their current coordinates relative to the delivery
// address.
type Match struct {
	Courier    directory.CourierProfile
	Position   types.Point
	DistanceKm float64
}

// defaultMaxCandidates caps how many geo hits are considered per search;
// anything beyond the nearest few dozen is never useful for a dispatch.
const defaultMaxCandidates = 20
