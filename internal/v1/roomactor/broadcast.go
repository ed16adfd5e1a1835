package roomactor

import (
	"context"
	"encoding/json"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
)

// broadcastExcept fans frame out to every attached peer other than except.
// A non-evictable frame (CRDT updates, membership events) that a peer's
// outbox refuses to queue closes that peer with Backpressure instead of
// being dropped: a CRDT update is never silently lost.
func (a *Actor) broadcastExcept(except Peer, frame *wireproto.ServerFrame, evictable bool) {
	for peer := range a.sessions {
		if peer == except {
			continue
		}
		if !peer.Send(frame, evictable) && !evictable {
			peer.Close(wireproto.ErrBackpressure)
		}
	}
}

func (a *Actor) broadcastAll(frame *wireproto.ServerFrame, evictable bool) {
	a.broadcastExcept(nil, frame, evictable)
}

// crdtPubSubPayload is the inner payload carried by bus.PubSubPayload for a
// "crdt-update" event: the merge blob plus the principal who authored it,
// so a receiving pod's RoomActor can attribute the broadcast it re-fans to
// its own local sessions.
type crdtPubSubPayload struct {
	Blob              []byte `json:"blob"`
	OriginPrincipalID string `json:"originPrincipalId"`
}

// publishCrossPod fans a CRDT update to other pods' RoomActors for the same
// room via the shared bus, so horizontally-scaled deployments stay
// consistent. A nil bus service (single-node mode) makes this a no-op. The
// envelope's SenderID carries this actor's process-unique instanceID, not
// originPrincipalID, so subscribeCrossPod's handler can tell its own
// publishes apart from a genuine peer pod's: an update must never echo back
// to the pod that already applied it.
func (a *Actor) publishCrossPod(ctx context.Context, event string, blob []byte, originPrincipalID string) {
	if a.busSvc == nil {
		return
	}
	_ = a.busSvc.Publish(ctx, a.roomKey, event, crdtPubSubPayload{
		Blob:              blob,
		OriginPrincipalID: originPrincipalID,
	}, a.instanceID, nil)
}

// subscribeCrossPod starts the room's Redis subscription so CRDT updates
// accepted by this room's actor on another pod are merged in here too. It
// is started once Run reaches StateRunning and stops when ctx (the actor's
// own lifetime context) is cancelled, per bus.Service.Subscribe's contract.
func (a *Actor) subscribeCrossPod(ctx context.Context) {
	if a.busSvc == nil {
		return
	}
	a.busSvc.Subscribe(ctx, a.roomKey, nil, func(msg bus.PubSubPayload) {
		if msg.SenderID == a.instanceID {
			return // our own publish, looped back by Redis
		}
		if msg.Event != wireproto.TypeCrdtUpdate {
			return
		}
		var inner crdtPubSubPayload
		if err := json.Unmarshal(msg.Payload, &inner); err != nil {
			return
		}
		select {
		case a.commands <- remoteCrdtUpdateCmd{blob: inner.Blob, originPrincipalID: inner.OriginPrincipalID}:
		case <-a.done:
		}
	})
}
