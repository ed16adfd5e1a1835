package roomactor

import (
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
)

// command is the tagged-union interface for everything that flows through
// the actor's single inbound channel. Only one goroutine (the loop started
// by Actor.Run) ever receives from that channel, which is what makes every
// mutation of doc/sessions/presence single-writer.
type command interface {
	isCommand()
}

// AttachResult is returned to the caller of Attach through its Result
// channel once the actor has processed the command. Admitted is false only
// when the authoritative, race-free capacity check inside the actor loop
// finds the room already full; the earlier admission.AuthorizeJoin check
// is necessarily optimistic since it runs outside the actor's serializer.
type AttachResult struct {
	Admitted bool
	Outcome  admission.JoinOutcome
}

// attachCmd asks the actor to add peer as an attached session.
type attachCmd struct {
	peer      Peer
	principal admission.Principal
	role      docstore.Role
	capacity  int
	result    chan AttachResult
}

func (attachCmd) isCommand() {}

// detachCmd asks the actor to remove peer. Idempotent: detaching a peer
// that isn't attached is a no-op.
type detachCmd struct {
	peer Peer
}

func (detachCmd) isCommand() {}

// crdtUpdateCmd carries an opaque CRDT update blob from peer to be merged
// into the document and fanned out to every other attached session.
type crdtUpdateCmd struct {
	peer Peer
	blob []byte
}

func (crdtUpdateCmd) isCommand() {}

// cursorUpdateCmd carries a best-effort, droppable cursor/selection frame.
type cursorUpdateCmd struct {
	peer      Peer
	line, col int
	selection *wireproto.Selection
}

func (cursorUpdateCmd) isCommand() {}

// typingUpdateCmd carries a typing-indicator toggle, TTL-bound in presence.
type typingUpdateCmd struct {
	peer   Peer
	typing bool
}

func (typingUpdateCmd) isCommand() {}

// languageChangeCmd requests a room-wide default language change. The
// caller has already run admission.AuthorizeAction before sending this.
type languageChangeCmd struct {
	peer     Peer
	language string
}

func (languageChangeCmd) isCommand() {}

// typingExpireCmd is self-scheduled by handleTypingUpdate via time.AfterFunc
// to clear a stale typing flag. It is a no-op if the flag was refreshed
// after this was scheduled.
type typingExpireCmd struct {
	principalID string
	scheduledAt int64 // unix nanos, compared against the presence record's own deadline
}

func (typingExpireCmd) isCommand() {}

// remoteCrdtUpdateCmd carries a CRDT update that originated on another pod,
// delivered through internal/v1/bus's Redis subscription. Unlike
// crdtUpdateCmd it has no originating local Peer to exclude from the
// broadcast: every locally-attached session is a fan-out target.
type remoteCrdtUpdateCmd struct {
	blob              []byte
	originPrincipalID string
}

func (remoteCrdtUpdateCmd) isCommand() {}

// guestCountQuery answers admission's capacity check with the number of
// distinct guest principals currently attached, computed on the loop
// goroutine so it never races with Attach/Detach.
type guestCountQuery struct {
	resp chan int
}

func (guestCountQuery) isCommand() {}

// snapshotQuery answers a fresh Hello with the room's current state without
// forcing the caller to wait for the next broadcast.
type snapshotQuery struct {
	resp chan wireproto.Snapshot
}

func (snapshotQuery) isCommand() {}
