// README: In-process connection registry; who is reachable right now.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"foodcourt/internal/types"
)

// streamBuffer bounds the per-recipient queue; a slow consumer loses events
// rather than stalling the sender.
const streamBuffer = 16

// Registry is the process-wide reachability map. Populated when a client
// opens its event stream, cleared on disconnect. It is a transport detail,
// never a source of truth for business state.
type Registry struct {
	mu     sync.RWMutex
	conns  map[types.ID]chan Event
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		conns:  make(map[types.ID]chan Event),
		logger: logger,
	}
}

// Connect registers a recipient and returns its event stream. A reconnect
// replaces the previous stream, which is closed.
func (r *Registry) Connect(id types.ID) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[id]; ok {
		close(old)
	}
	ch := make(chan Event, streamBuffer)
	r.conns[id] = ch
	return ch
}

// Disconnect removes the recipient's stream if it is still the registered one.
func (r *Registry) Disconnect(id types.ID, stream <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[id]; ok && cur == stream {
		close(cur)
		delete(r.conns, id)
	}
}

// Notify implements Dispatcher. Unreachable recipients and full buffers drop
// the event; delivery is never guaranteed. The read lock is held across the
// send: Connect and Disconnect close streams under the write lock, so a send
// can never hit a closed channel. The send is non-blocking, so the lock is
// held only momentarily.
func (r *Registry) Notify(_ context.Context, recipient types.ID, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.conns[recipient]
	if !ok {
		r.logger.Debug().
			Str("recipient", string(recipient)).
			Str("event", string(ev.Type)).
			Msg("notify: recipient not connected, dropping")
		return
	}
	select {
	case ch <- ev:
	default:
		r.logger.Warn().
			Str("recipient", string(recipient)).
			Str("event", string(ev.Type)).
			Msg("notify: stream full, dropping")
	}
}

// Connected reports whether a recipient currently has an open stream.
func (r *Registry) Connected(id types.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}
