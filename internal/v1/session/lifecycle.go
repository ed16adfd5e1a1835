package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var colorPalette = []string{
	"#e06c75", "#98c379", "#e5c07b", "#61afef", "#c678dd", "#56b6c2", "#d19a66",
}

func colorFor(principalID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(principalID))
	return colorPalette[int(h.Sum32())%len(colorPalette)]
}

// Run admits the connection and, on success, drives it until the client
// disconnects, leaves, or is closed by the room. It blocks until the
// connection is fully torn down.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxReadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	})

	hello, err := s.readHello()
	if err != nil {
		if isTimeoutErr(err) {
			s.sendAndClose(wireproto.ErrTimeout)
		}
		return
	}

	principal, err := s.deps.Admission.Resolve(ctx, admission.Credentials{
		Token:       hello.Token,
		DisplayName: hello.DisplayName,
	})
	if err != nil {
		s.sendAndClose(wireproto.ErrUnauthorized)
		return
	}
	s.principal = principal
	s.colorToken = colorFor(principal.ID)

	// hello's Room may be either the primary roomKey or the joinCode handed
	// back from room creation; either uniquely addresses the room.
	if canonical, err := s.deps.Admission.ResolveRoomKey(s.roomKey); err == nil {
		s.roomKey = canonical
	}

	decision, err := s.deps.Admission.AuthorizeJoin(ctx, s.roomKey, principal, hello.Password)
	if err != nil {
		logging.Error(ctx, "authorize join failed", zap.String("room_key", s.roomKey), zap.Error(err))
		s.sendAndClose(wireproto.ErrInternalError)
		return
	}
	if decision.Outcome != admission.OutcomeAdmitted {
		s.sendAndClose(outcomeErrorKind(decision.Outcome))
		return
	}
	s.role = decision.Role

	actor, err := s.deps.Registry.Acquire(ctx, s.roomKey)
	if err != nil {
		logging.Warn(ctx, "room unavailable", zap.String("room_key", s.roomKey), zap.Error(err))
		s.sendAndClose(wireproto.ErrRoomUnavailable)
		return
	}
	s.actor = actor

	result := <-actor.Attach(principal, s.role, decision.Capacity, s)
	if !result.Admitted {
		s.sendAndClose(outcomeErrorKind(result.Outcome))
		return
	}
	defer actor.Detach(s)

	snap := actor.Snapshot()
	s.outbox.push(&wireproto.ServerFrame{
		Type:         wireproto.TypeHelloAck,
		Room:         s.roomKey,
		RoleOfClient: string(s.role),
		ColorToken:   s.colorToken,
		Snapshot:     &snap,
	}, false)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writePump()
	}()

	s.readPump(ctx)

	s.shutdown()
	<-writeDone
}

func (s *Session) readHello() (*wireproto.ClientFrame, error) {
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := wireproto.DecodeClientFrame(messageType == websocket.BinaryMessage, data)
	if err != nil {
		return nil, err
	}
	if frame.Type != wireproto.TypeHello {
		return nil, fmt.Errorf("session: expected hello frame, got %q", frame.Type)
	}
	return frame, nil
}

func (s *Session) readPump(ctx context.Context) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if isTimeoutErr(err) {
				s.Close(wireproto.ErrTimeout)
			}
			return
		}
		frame, err := wireproto.DecodeClientFrame(messageType == websocket.BinaryMessage, data)
		if err != nil {
			s.Close(wireproto.ErrProtocolError)
			return
		}

		switch frame.Type {
		case wireproto.TypeLeave:
			return
		case wireproto.TypeCrdtUpdate:
			s.actor.CrdtUpdate(s, frame.Blob)
		case wireproto.TypeCursor:
			s.actor.CursorUpdate(s, frame.Line, frame.Col, frame.Selection)
		case wireproto.TypeTyping:
			s.actor.TypingUpdate(s, frame.Typing)
		case wireproto.TypeLanguageChange:
			allowed, err := s.deps.Admission.AuthorizeAction(ctx, s.roomKey, s.principal, admission.ActionChangeSettings)
			if err != nil {
				logging.Error(ctx, "authorize language change failed", zap.Error(err))
				continue
			}
			if allowed {
				s.actor.LanguageChange(s, frame.Language)
			}
		case wireproto.TypePing:
			s.outbox.push(&wireproto.ServerFrame{Type: wireproto.TypePong}, true)
		default:
			s.outbox.push(wireproto.NewWarning(wireproto.WarnUnknownType, frame.Type), true)
		}
	}
}

// writePump drains the outbox onto the wire and sends heartbeat pings. It
// owns the transport close: once the outbox is closed and flushed (or a
// write fails), it closes the connection, which also unblocks the read
// pump if it is still parked in ReadMessage.
func (s *Session) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer func() { _ = s.conn.Close() }()

	for {
		select {
		case <-s.outbox.notify:
			for _, f := range s.outbox.drain() {
				data, err := wireproto.Encode(f)
				if err != nil {
					continue
				}
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
			if s.outbox.isClosed() {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendAndClose writes a single error frame synchronously (the write pump
// isn't running yet when admission fails) and tears the connection down.
func (s *Session) sendAndClose(kind wireproto.ErrorKind) {
	data, err := wireproto.Encode(wireproto.NewError(kind, ""))
	if err == nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.TextMessage, data)
	}
	s.outbox.close()
}

// shutdown tears the session down on a normal disconnect (read error or an
// explicit leave), without pushing an error frame.
func (s *Session) shutdown() {
	s.outbox.close()
}

// isTimeoutErr reports whether err is the read deadline expiring, i.e. no
// client frame (pong included) arrived within heartbeatTimeout, as opposed
// to a genuine disconnect or protocol error.
func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcomeErrorKind(outcome admission.JoinOutcome) wireproto.ErrorKind {
	switch outcome {
	case admission.OutcomePasswordRequired:
		return wireproto.ErrPasswordRequired
	case admission.OutcomePasswordInvalid:
		return wireproto.ErrPasswordInvalid
	case admission.OutcomeRoomFull:
		return wireproto.ErrRoomFull
	case admission.OutcomeRoomNotFound:
		return wireproto.ErrRoomNotFound
	case admission.OutcomeBanned:
		return wireproto.ErrBanned
	default:
		return wireproto.ErrInternalError
	}
}
