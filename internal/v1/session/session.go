// Package session implements the per-connection client session: it owns
// one WebSocket, translates wireproto client frames into RoomActor
// commands, and drains a bounded outbox back onto the wire through a
// dedicated write pump.
package session

import (
	"sync"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/registry"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/roomactor"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 60 * time.Second
	maxReadBytes      = 1 << 20 // 1 MiB, generous enough for a full CRDT snapshot blob
)

// wsConn is the subset of *websocket.Conn a Session needs, narrowed so
// tests can substitute a fake connection.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Deps bundles the collaborators a Session needs to admit and run a
// connection. Shared across every Session in the process.
type Deps struct {
	Admission *admission.Service
	Registry  *registry.Registry
}

// Session is one client's attached connection to a room.
type Session struct {
	conn    wsConn
	deps    Deps
	roomKey string

	principal  admission.Principal
	role       docstore.Role
	colorToken string

	actor *roomactor.Actor

	outbox    *outbox
	closeOnce sync.Once
}

// New wraps an upgraded WebSocket connection. Run must be called to admit
// and drive the connection; New itself does no I/O.
func New(conn *websocket.Conn, deps Deps, roomKey string) *Session {
	return newSession(conn, deps, roomKey)
}

// newSession builds a Session around any wsConn, narrowed so tests can
// supply a fake connection instead of a real *websocket.Conn.
func newSession(conn wsConn, deps Deps, roomKey string) *Session {
	return &Session{
		conn:    conn,
		deps:    deps,
		roomKey: roomKey,
		outbox:  newOutbox(),
	}
}

// --- roomactor.Peer ---

func (s *Session) PrincipalID() string { return s.principal.ID }
func (s *Session) DisplayName() string { return s.principal.DisplayName }
func (s *Session) ColorToken() string  { return s.colorToken }
func (s *Session) Role() docstore.Role { return s.role }

func (s *Session) Send(frame *wireproto.ServerFrame, evictable bool) bool {
	return s.outbox.push(frame, evictable)
}

// Close tears the session down with the given reason. Idempotent. The
// error frame and any queued frames are flushed best-effort by the write
// pump, which closes the transport once the outbox is drained; the read
// pump observes the transport close and unwinds on its own.
func (s *Session) Close(kind wireproto.ErrorKind) {
	s.closeOnce.Do(func() {
		s.outbox.push(wireproto.NewError(kind, ""), false)
		s.outbox.close()
	})
}

var _ roomactor.Peer = (*Session)(nil)
