// Package registry implements the process-wide room registry: a single map
// from room key to live RoomActor, handed out without ever calling into an
// actor while the registry's own lock is held.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/roomactor"
	"go.uber.org/zap"
)

// Registry hands out the single live RoomActor for a room, creating one on
// first use and retrying creation if the previous attempt failed to load.
type Registry struct {
	store  docstore.Store
	busSvc *bus.Service
	cfg    roomactor.Config

	mu     sync.Mutex
	actors map[string]*roomactor.Actor
	cancel map[string]context.CancelFunc
}

// New builds a Registry. cfg supplies the per-actor timing knobs; every
// room in the process shares the same configuration.
func New(store docstore.Store, busSvc *bus.Service, cfg roomactor.Config) *Registry {
	return &Registry{
		store:  store,
		busSvc: busSvc,
		cfg:    cfg,
		actors: make(map[string]*roomactor.Actor),
		cancel: make(map[string]context.CancelFunc),
	}
}

// Acquire returns the live RoomActor for roomKey, creating and starting one
// if none exists. It blocks until the actor finishes its initial document
// load; a load failure evicts the actor so the next Acquire retries fresh.
func (r *Registry) Acquire(ctx context.Context, roomKey string) (*roomactor.Actor, error) {
	r.mu.Lock()
	if existing, ok := r.actors[roomKey]; ok {
		r.mu.Unlock()
		return r.awaitReady(ctx, roomKey, existing)
	}

	actorCtx, cancel := context.WithCancel(context.Background())
	// actor is captured by the onTerminate closure below; it is assigned
	// before actor.Run ever starts, and onTerminate only fires once Run is
	// about to return, so there is no race on the capture.
	var actor *roomactor.Actor
	actor = roomactor.New(roomKey, r.store, r.busSvc, r.cfg, func() {
		r.release(roomKey, actor)
	})
	r.actors[roomKey] = actor
	r.cancel[roomKey] = cancel
	r.mu.Unlock()

	go actor.Run(actorCtx)
	return r.awaitReady(ctx, roomKey, actor)
}

func (r *Registry) awaitReady(ctx context.Context, roomKey string, actor *roomactor.Actor) (*roomactor.Actor, error) {
	select {
	case <-actor.Ready():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := actor.LoadErr(); err != nil {
		r.mu.Lock()
		if r.actors[roomKey] == actor {
			delete(r.actors, roomKey)
			delete(r.cancel, roomKey)
		}
		r.mu.Unlock()
		return nil, err
	}
	return actor, nil
}

// release removes roomKey's mapping only if it still points at actor,
// guarding against a stale callback firing after a newer actor replaced it.
// Once the room is genuinely idle it kicks off the guest-session TTL
// sweep, pruning offline guest Member rows the room's own life has
// outlived.
func (r *Registry) release(roomKey string, actor *roomactor.Actor) {
	r.mu.Lock()
	removed := r.actors[roomKey] == actor
	if removed {
		delete(r.actors, roomKey)
		delete(r.cancel, roomKey)
	}
	r.mu.Unlock()

	if removed {
		go r.sweepStaleGuests(roomKey)
	}
}

func (r *Registry) sweepStaleGuests(roomKey string) {
	cutoff := time.Now().Add(-r.cfg.IdleGracePeriod)
	if err := r.store.PurgeStaleGuests(roomKey, cutoff); err != nil {
		logging.Error(context.Background(), "guest session sweep failed",
			zap.String("room_key", roomKey), zap.Error(err))
	}
}

// GuestCount implements admission.RoomPresenceCounter without importing the
// admission package, avoiding an import cycle (admission -> registry would
// otherwise need registry -> admission for the interface type alone).
func (r *Registry) GuestCount(roomKey string) int {
	r.mu.Lock()
	actor, ok := r.actors[roomKey]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	select {
	case <-actor.Ready():
	default:
		return 0
	}
	if actor.LoadErr() != nil {
		return 0
	}
	return actor.GuestCount()
}

// Evict cancels the live actor for roomKey, if any, and waits for it to
// drain. Used when a room is deleted out from under its actor (owner-only
// DeleteRoom) so a stale actor never outlives its persisted row.
func (r *Registry) Evict(roomKey string) {
	r.mu.Lock()
	actor, ok := r.actors[roomKey]
	cancel, hasCancel := r.cancel[roomKey]
	r.mu.Unlock()
	if !ok {
		return
	}
	if hasCancel {
		cancel()
	}
	<-actor.Done()
}

// Shutdown cancels every live actor's context and waits for each to drain.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := make([]*roomactor.Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	cancels := make([]context.CancelFunc, 0, len(r.cancel))
	for _, c := range r.cancel {
		cancels = append(cancels, c)
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, a := range actors {
		<-a.Done()
	}
}
