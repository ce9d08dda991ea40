package hub

import (
	"log/slog"

	"github.com/hivedesk/relay/internal/observability"
)

// Broadcaster is a pure pub/sub fan-out over the registry's live
// subscription table. It never touches persisted state.
type Broadcaster struct {
	registry *Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster over the given registry.
// If logger is nil, slog.Default() is used.
func NewBroadcaster(registry *Registry, metrics *observability.Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		logger:   logger.With("component", "broadcaster"),
	}
}

// Broadcast delivers an event to every connection subscribed to the
// room. A room with zero subscribers is a silent no-op.
func (b *Broadcaster) Broadcast(roomID, event string, payload any) {
	b.BroadcastExcept(roomID, event, payload, "")
}

// BroadcastExcept delivers an event to every room subscriber except the
// named connection. Used for typing events, which must not echo back to
// their author.
func (b *Broadcaster) BroadcastExcept(roomID, event string, payload any, exceptConnID string) {
	members := b.registry.RoomMembers(roomID)
	reached := 0
	for _, conn := range members {
		if conn.ID == exceptConnID {
			continue
		}
		if err := conn.transport.SendEvent(event, payload); err != nil {
			// A slow or closing consumer must not stall the rest of
			// the room.
			b.logger.Debug("broadcast send failed",
				"room", roomID, "event", event, "conn_id", conn.ID, "error", err)
			continue
		}
		reached++
	}
	b.metrics.BroadcastReached(reached)
	b.metrics.OutboundEvent(event)
}

// SendToUser delivers an event to the user's current live connection
// and reports whether one existed. A user with no live connection is a
// silent no-op, not an error; offline delivery is the notification
// dispatcher's job.
func (b *Broadcaster) SendToUser(userID, event string, payload any) (bool, error) {
	conn, ok := b.registry.LookupUser(userID)
	if !ok {
		return false, nil
	}
	if err := conn.transport.SendEvent(event, payload); err != nil {
		return false, err
	}
	b.metrics.OutboundEvent(event)
	return true, nil
}
