package roomactor

import (
	"context"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
	"go.uber.org/zap"
)

func (a *Actor) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case attachCmd:
		a.handleAttach(ctx, c)
	case detachCmd:
		a.handleDetach(ctx, c)
	case crdtUpdateCmd:
		a.handleCrdtUpdate(ctx, c)
	case remoteCrdtUpdateCmd:
		a.handleRemoteCrdtUpdate(c)
	case cursorUpdateCmd:
		a.handleCursorUpdate(c)
	case typingUpdateCmd:
		a.handleTypingUpdate(c)
	case languageChangeCmd:
		a.handleLanguageChange(c)
	case typingExpireCmd:
		a.handleTypingExpire(c)
	case guestCountQuery:
		c.resp <- a.guestCount()
	case snapshotQuery:
		c.resp <- a.snapshot()
	}
}

// Attach adds peer to the room, gated by the authoritative, race-free
// capacity check. It never blocks on the caller; the caller blocks on the
// returned channel instead.
func (a *Actor) Attach(principal admission.Principal, role docstore.Role, capacity int, peer Peer) <-chan AttachResult {
	result := make(chan AttachResult, 1)
	select {
	case a.commands <- attachCmd{peer: peer, principal: principal, role: role, capacity: capacity, result: result}:
	case <-a.done:
		result <- AttachResult{Admitted: false, Outcome: admission.OutcomeRoomNotFound}
	}
	return result
}

// Detach removes peer from the room. Safe to call more than once for the
// same peer, and safe to call after the actor has terminated.
func (a *Actor) Detach(peer Peer) {
	select {
	case a.commands <- detachCmd{peer: peer}:
	case <-a.done:
	}
}

// CrdtUpdate submits a merge from peer.
func (a *Actor) CrdtUpdate(peer Peer, blob []byte) {
	select {
	case a.commands <- crdtUpdateCmd{peer: peer, blob: blob}:
	case <-a.done:
	}
}

// CursorUpdate submits a best-effort cursor/selection update from peer.
func (a *Actor) CursorUpdate(peer Peer, line, col int, sel *wireproto.Selection) {
	select {
	case a.commands <- cursorUpdateCmd{peer: peer, line: line, col: col, selection: sel}:
	case <-a.done:
	}
}

// TypingUpdate submits a typing-indicator toggle from peer.
func (a *Actor) TypingUpdate(peer Peer, typing bool) {
	select {
	case a.commands <- typingUpdateCmd{peer: peer, typing: typing}:
	case <-a.done:
	}
}

// LanguageChange submits a room-wide language change from peer. Callers run
// admission.AuthorizeAction(ActionChangeSettings) before calling this.
func (a *Actor) LanguageChange(peer Peer, language string) {
	select {
	case a.commands <- languageChangeCmd{peer: peer, language: language}:
	case <-a.done:
	}
}

// GuestCount implements admission.RoomPresenceCounter.
func (a *Actor) GuestCount() int {
	resp := make(chan int, 1)
	select {
	case a.commands <- guestCountQuery{resp: resp}:
	case <-a.done:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-a.done:
		return 0
	}
}

// Snapshot returns the room's current state for a just-attached peer's
// hello-ack frame.
func (a *Actor) Snapshot() wireproto.Snapshot {
	resp := make(chan wireproto.Snapshot, 1)
	select {
	case a.commands <- snapshotQuery{resp: resp}:
	case <-a.done:
		return wireproto.Snapshot{}
	}
	select {
	case s := <-resp:
		return s
	case <-a.done:
		return wireproto.Snapshot{}
	}
}

func (a *Actor) handleAttach(ctx context.Context, c attachCmd) {
	if _, ok := a.sessions[c.peer]; ok {
		c.result <- AttachResult{Admitted: true, Outcome: admission.OutcomeAdmitted}
		return
	}

	distinct := a.distinctPrincipals()
	_, alreadyPresent := distinct[c.principal.ID]
	if !alreadyPresent && len(distinct) >= c.capacity {
		c.result <- AttachResult{Admitted: false, Outcome: admission.OutcomeRoomFull}
		return
	}

	a.sessions[c.peer] = c.principal
	a.presence[c.principal.ID] = &presenceRecord{
		principal:  c.principal,
		role:       c.role,
		colorToken: c.peer.ColorToken(),
	}
	a.capacity = c.capacity

	if a.idleC != nil {
		a.idleC = stopTimer(a.idleTimer)
	}

	metrics.RoomParticipants.WithLabelValues(a.roomKey).Set(float64(len(a.sessions)))
	c.result <- AttachResult{Admitted: true, Outcome: admission.OutcomeAdmitted}

	a.persistOnline(ctx, c.principal, c.role, true)

	a.broadcastExcept(c.peer, &wireproto.ServerFrame{
		Type:        wireproto.TypeUserJoined,
		PrincipalID: c.principal.ID,
		DisplayName: c.principal.DisplayName,
		ColorToken:  c.peer.ColorToken(),
	}, false)
	a.broadcastExcept(c.peer, &wireproto.ServerFrame{
		Type:          wireproto.TypeUsersSnapshot,
		UsersSnapshot: a.usersSnapshotEntries(),
	}, true)
}

func (a *Actor) handleDetach(ctx context.Context, c detachCmd) {
	principal, ok := a.sessions[c.peer]
	if !ok {
		return
	}
	delete(a.sessions, c.peer)

	if !a.hasOtherSessionFor(principal.ID) {
		delete(a.presence, principal.ID)
		a.persistOnline(ctx, principal, "", false)
		a.broadcastExcept(c.peer, &wireproto.ServerFrame{
			Type:        wireproto.TypeUserLeft,
			PrincipalID: principal.ID,
		}, false)
		a.broadcastExcept(c.peer, &wireproto.ServerFrame{
			Type:          wireproto.TypeUsersSnapshot,
			UsersSnapshot: a.usersSnapshotEntries(),
		}, true)
	}

	metrics.RoomParticipants.WithLabelValues(a.roomKey).Set(float64(len(a.sessions)))

	if len(a.sessions) == 0 {
		a.forceSave(ctx, docstore.ReasonLastLeft)
		a.idleC = resetTimer(a.idleTimer, a.cfg.IdleGracePeriod)
	}
}

// persistOnline updates the Document Store's Member row to match this
// Attach/Detach, so online=false holds after the last detach regardless of
// ordering races. It runs on a short-lived worker, never the actor's own
// goroutine: the online flag is advisory bookkeeping, eventually consistent
// with the live session set, and the actor must not block on it.
//
// Guests are deliberately skipped. A guest principal never gets a Member
// row, so nothing is upserted for one in the first place; guest capacity
// accounting comes from the live actor instead.
func (a *Actor) persistOnline(ctx context.Context, principal admission.Principal, role docstore.Role, online bool) {
	if principal.IsGuest() {
		return
	}
	store := a.store
	roomKey := a.roomKey
	go func() {
		now := time.Now()
		if online {
			if err := store.UpsertMember(roomKey, principal.ID, role, now); err != nil {
				logging.Error(ctx, "upsert member failed",
					zap.String("room_key", roomKey), zap.String("principal_id", principal.ID), zap.Error(err))
				return
			}
			return
		}
		if err := store.MarkOnline(roomKey, principal.ID, false, now); err != nil {
			logging.Error(ctx, "mark member offline failed",
				zap.String("room_key", roomKey), zap.String("principal_id", principal.ID), zap.Error(err))
		}
	}()
}

func (a *Actor) handleCrdtUpdate(ctx context.Context, c crdtUpdateCmd) {
	if err := a.doc.Merge(c.blob); err != nil {
		metrics.CrdtUpdatesTotal.WithLabelValues("error").Inc()
		c.peer.Close(wireproto.ErrProtocolError)
		return
	}
	metrics.CrdtUpdatesTotal.WithLabelValues("ok").Inc()

	a.docVersion++
	wasDirty := a.dirty
	a.dirty = true
	a.debounceC = resetTimer(a.debounceTimer, a.cfg.DebouncePeriod)
	if !wasDirty {
		a.stalenessC = resetTimer(a.stalenessTimer, a.cfg.MaxStaleness)
	}

	principal := a.sessions[c.peer]
	frame := &wireproto.ServerFrame{
		Type:              wireproto.TypeCrdtUpdate,
		Blob:              c.blob,
		OriginPrincipalID: principal.ID,
	}
	a.broadcastExcept(c.peer, frame, false)
	a.publishCrossPod(ctx, wireproto.TypeCrdtUpdate, c.blob, principal.ID)
}

// handleRemoteCrdtUpdate merges a CRDT update that another pod already
// accepted from one of its own local sessions. It is applied the same way a
// local crdtUpdateCmd is, except there is no originating local Peer to
// exclude from the broadcast and the update is never re-published to the
// bus (publishCrossPod's echo guard already keeps this pod from seeing its
// own publishes, so a republish here would only be redundant, not wrong,
// but skipping it avoids needless Redis traffic on every merge).
func (a *Actor) handleRemoteCrdtUpdate(c remoteCrdtUpdateCmd) {
	if err := a.doc.Merge(c.blob); err != nil {
		metrics.CrdtUpdatesTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.CrdtUpdatesTotal.WithLabelValues("ok").Inc()

	a.docVersion++
	wasDirty := a.dirty
	a.dirty = true
	a.debounceC = resetTimer(a.debounceTimer, a.cfg.DebouncePeriod)
	if !wasDirty {
		a.stalenessC = resetTimer(a.stalenessTimer, a.cfg.MaxStaleness)
	}

	a.broadcastAll(&wireproto.ServerFrame{
		Type:              wireproto.TypeCrdtUpdate,
		Blob:              c.blob,
		OriginPrincipalID: c.originPrincipalID,
	}, false)
}

func (a *Actor) handleCursorUpdate(c cursorUpdateCmd) {
	principal := a.sessions[c.peer]
	if rec, ok := a.presence[principal.ID]; ok {
		rec.line, rec.col = c.line, c.col
		rec.selection = c.selection
	}
	frame := &wireproto.ServerFrame{
		Type:        wireproto.TypeCursor,
		PrincipalID: principal.ID,
		Line:        c.line,
		Col:         c.col,
		Selection:   c.selection,
	}
	a.broadcastExcept(c.peer, frame, true)
}

func (a *Actor) handleTypingUpdate(c typingUpdateCmd) {
	principal := a.sessions[c.peer]
	rec, ok := a.presence[principal.ID]
	if !ok {
		return
	}
	rec.typing = c.typing
	if c.typing {
		deadline := time.Now().Add(a.cfg.TypingTTL)
		rec.typingExpiresAt = deadline
		principalID := principal.ID
		scheduledAt := deadline.UnixNano()
		commands := a.commands
		done := a.done
		time.AfterFunc(a.cfg.TypingTTL, func() {
			select {
			case commands <- typingExpireCmd{principalID: principalID, scheduledAt: scheduledAt}:
			case <-done:
			}
		})
	}

	a.broadcastExcept(c.peer, &wireproto.ServerFrame{
		Type:        wireproto.TypeTyping,
		PrincipalID: principal.ID,
		Typing:      c.typing,
	}, true)
}

func (a *Actor) handleTypingExpire(c typingExpireCmd) {
	rec, ok := a.presence[c.principalID]
	if !ok || !rec.typing {
		return
	}
	if rec.typingExpiresAt.UnixNano() != c.scheduledAt {
		return // refreshed since this expiry was scheduled
	}
	rec.typing = false
	a.broadcastAll(&wireproto.ServerFrame{
		Type:        wireproto.TypeTyping,
		PrincipalID: c.principalID,
		Typing:      false,
	}, true)
}

func (a *Actor) handleLanguageChange(c languageChangeCmd) {
	a.language = c.language
	a.broadcastAll(&wireproto.ServerFrame{
		Type:     wireproto.TypeLanguageChange,
		Language: c.language,
	}, false)
}

func (a *Actor) distinctPrincipals() map[string]struct{} {
	out := make(map[string]struct{}, len(a.sessions))
	for _, p := range a.sessions {
		out[p.ID] = struct{}{}
	}
	return out
}

func (a *Actor) hasOtherSessionFor(principalID string) bool {
	for _, p := range a.sessions {
		if p.ID == principalID {
			return true
		}
	}
	return false
}

func (a *Actor) guestCount() int {
	n := 0
	for id := range a.distinctPrincipals() {
		if len(id) > 6 && id[:6] == "guest_" {
			n++
		}
	}
	return n
}

func (a *Actor) usersSnapshotEntries() []wireproto.UsersSnapshotEntry {
	users := make([]wireproto.UsersSnapshotEntry, 0, len(a.presence))
	for _, rec := range a.presence {
		users = append(users, wireproto.UsersSnapshotEntry{
			PrincipalID: rec.principal.ID,
			DisplayName: rec.principal.DisplayName,
			ColorToken:  rec.colorToken,
			Role:        string(rec.role),
		})
	}
	return users
}

func (a *Actor) snapshot() wireproto.Snapshot {
	blob, _ := a.doc.EncodeState()
	return wireproto.Snapshot{
		Language:      a.language,
		UsersSnapshot: a.usersSnapshotEntries(),
		DocumentBytes: blob,
	}
}
