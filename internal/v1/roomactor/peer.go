package roomactor

import (
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
)

// Peer is the actor's view of an attached Session. A Session satisfies this
// by wrapping its own bounded outbox; the actor never touches a websocket
// connection directly.
type Peer interface {
	PrincipalID() string
	DisplayName() string
	ColorToken() string
	Role() docstore.Role

	// Send enqueues frame for delivery. evictable marks a transient frame
	// (cursor, typing) that may be silently dropped under load; a
	// non-evictable frame (CRDT update, user-joined/left) that cannot be
	// queued returns false, and the caller must Close the peer instead of
	// retrying or dropping it.
	Send(frame *wireproto.ServerFrame, evictable bool) bool

	// Close tears the peer's transport down with the given reason. Safe to
	// call more than once.
	Close(kind wireproto.ErrorKind)
}
