package hub

import "errors"

// ErrNotParticipant rejects an inbound event that acts on a
// conversation the user is not an active participant of. The event is
// answered with an error frame; the connection stays up.
var ErrNotParticipant = errors.New("not a conversation participant")
