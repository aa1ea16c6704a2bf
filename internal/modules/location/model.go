// README: Courier location snapshot for persistence and replay.
package location

import (
	"time"

	"foodcourt/internal/types"
)

type Snapshot struct {
	ID         int64
	CourierID  types.ID
	Position   types.Point
	RecordedAt time.Time
}
