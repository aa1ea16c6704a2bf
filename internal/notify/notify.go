// README: Notification contract used by the order core; transport is best-effort.
package notify

import (
	"context"
	"time"

	"foodcourt/internal/types"
)

type EventType string

const (
	EventNewOrder         EventType = "new-order"
	EventCourierAvailable EventType = "courier-available"
	EventCourierAssigned  EventType = "courier-assigned"
	EventStatusChanged    EventType = "status-changed"
)

type Event struct {
	Type    EventType      `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload"`
}

// Dispatcher pushes an event to an addressable recipient. Fire-and-forget:
// no delivery guarantee, no retry, silently succeeds when the recipient is
// not reachable. Callers never block on or fail because of the outcome.
type Dispatcher interface {
	Notify(ctx context.Context, recipient types.ID, ev Event)
}

func NewEvent(t EventType, payload map[string]any) Event {
	return Event{Type: t, At: time.Now().UTC(), Payload: payload}
}
