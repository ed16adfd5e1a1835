// Package roomactor implements the single-writer actor that owns one
// room's state: one command channel per room serializes every mutation of
// that room's CRDT document, attached sessions, and presence, so no mutex
// ever guards them.
package roomactor

import (
	"context"
	"fmt"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/crdt"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the actor's lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateDegraded
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config carries the timing knobs the actor runs under. Defaults come from
// internal/v1/config's Environment Contract fields.
type Config struct {
	DebouncePeriod   time.Duration
	MaxStaleness     time.Duration
	IdleGracePeriod  time.Duration
	TypingTTL        time.Duration
	SaveRetryBudget  int
	SaveBackoffBase  time.Duration
	SaveBackoffCap   time.Duration
	CommandQueueSize int
}

// DefaultConfig returns the production reference timings.
func DefaultConfig() Config {
	return Config{
		DebouncePeriod:   1 * time.Second,
		MaxStaleness:     30 * time.Second,
		IdleGracePeriod:  5 * time.Minute,
		TypingTTL:        3 * time.Second,
		SaveRetryBudget:  5,
		SaveBackoffBase:  500 * time.Millisecond,
		SaveBackoffCap:   30 * time.Second,
		CommandQueueSize: 64,
	}
}

type presenceRecord struct {
	principal       admission.Principal
	role            docstore.Role
	colorToken      string
	line, col       int
	selection       *wireproto.Selection
	typing          bool
	typingExpiresAt time.Time
}

type saveResult struct {
	reason     docstore.SaveReason
	err        error
	duration   time.Duration
	startedAtV uint64
}

// Actor is one room's single-writer serializer.
type Actor struct {
	roomKey    string
	instanceID string
	store      docstore.Store
	busSvc     *bus.Service
	cfg        Config

	commands chan command
	results  chan saveResult
	ready    chan struct{}
	done     chan struct{}

	onTerminate func()

	loadErr error

	// Fields below are only ever touched by the loop goroutine.
	doc          *crdt.Document
	language     string
	capacity     int
	sessions     map[Peer]admission.Principal
	presence     map[string]*presenceRecord
	docVersion   uint64
	dirty        bool
	saveInFlight bool
	saveRetries  int
	state        State

	debounceTimer  *time.Timer
	debounceC      <-chan time.Time
	stalenessTimer *time.Timer
	stalenessC     <-chan time.Time
	idleTimer      *time.Timer
	idleC          <-chan time.Time
}

// New constructs an Actor. onTerminate is invoked once, from the loop
// goroutine, right before Run returns, so the Room Registry can drop its
// mapping. A failed initial load returns from Run without invoking it;
// LoadErr reports that failure instead.
func New(roomKey string, store docstore.Store, busSvc *bus.Service, cfg Config, onTerminate func()) *Actor {
	return &Actor{
		roomKey:     roomKey,
		instanceID:  uuid.New().String(),
		store:       store,
		busSvc:      busSvc,
		cfg:         cfg,
		commands:    make(chan command, cfg.CommandQueueSize),
		results:     make(chan saveResult, 1),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		onTerminate: onTerminate,
		sessions:    make(map[Peer]admission.Principal),
		presence:    make(map[string]*presenceRecord),
		state:       StateInitializing,
	}
}

// RoomKey returns the room this actor serializes.
func (a *Actor) RoomKey() string { return a.roomKey }

// Ready is closed once the actor has either finished its initial load (and
// is StateRunning) or failed it (LoadErr will be non-nil).
func (a *Actor) Ready() <-chan struct{} { return a.ready }

// Done is closed once the actor's loop has returned and it will process no
// further commands.
func (a *Actor) Done() <-chan struct{} { return a.done }

// LoadErr reports the error from the actor's initial document load, if any.
// Only meaningful after Ready is closed.
func (a *Actor) LoadErr() error { return a.loadErr }

// Run loads the room's persisted state and then serves commands until the
// room goes idle or ctx is cancelled. It must be started in its own
// goroutine; it returns once the room is fully drained.
func (a *Actor) Run(ctx context.Context) {
	if err := a.loadInitial(); err != nil {
		a.loadErr = err
		close(a.ready)
		close(a.done)
		return
	}
	a.state = StateRunning
	close(a.ready)
	metrics.ActiveRooms.Inc()
	a.subscribeCrossPod(ctx)

	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "roomactor panic recovered, forcing final save",
				zap.String("room_key", a.roomKey), zap.Any("panic", r), zap.Stack("stack"))
			a.forceSaveSync(ctx, docstore.ReasonCleanup)
		}
		a.state = StateTerminated
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(a.roomKey)
		if a.onTerminate != nil {
			a.onTerminate()
		}
		close(a.done)
	}()

	a.loop(ctx)
}

func (a *Actor) loadInitial() error {
	room, err := a.store.LoadRoom(a.roomKey)
	if err != nil {
		return fmt.Errorf("roomactor: load room %s: %w", a.roomKey, err)
	}
	doc, err := crdt.LoadState(room.DocumentBlob)
	if err != nil {
		return fmt.Errorf("roomactor: decode document %s: %w", a.roomKey, err)
	}
	a.doc = doc
	a.language = room.DefaultLanguage
	a.capacity = room.Capacity
	return nil
}

func (a *Actor) loop(ctx context.Context) {
	a.debounceTimer, a.debounceC = newDisarmedTimer()
	a.stalenessTimer, a.stalenessC = newDisarmedTimer()
	a.idleTimer, a.idleC = newDisarmedTimer()
	defer a.debounceTimer.Stop()
	defer a.stalenessTimer.Stop()
	defer a.idleTimer.Stop()

	// The actor starts with zero sessions; if the first Attach never comes
	// (the join that spawned this room was rejected or abandoned), the idle
	// grace period still tears it down.
	a.idleC = resetTimer(a.idleTimer, a.cfg.IdleGracePeriod)

	for {
		select {
		case cmd := <-a.commands:
			a.handle(ctx, cmd)

		case res := <-a.results:
			a.handleSaveResult(ctx, res)

		case <-a.debounceC:
			a.debounceC = nil
			a.maybeSave(ctx, docstore.ReasonDebounce)

		case <-a.stalenessC:
			a.stalenessC = nil
			a.maybeSave(ctx, docstore.ReasonMaxStaleness)

		case <-a.idleC:
			a.idleC = nil
			if len(a.sessions) == 0 {
				a.forceSaveSync(ctx, docstore.ReasonCleanup)
				return
			}

		case <-ctx.Done():
			a.drain(ctx)
			return
		}
	}
}

// drain closes every attached peer and performs a final best-effort save on
// shutdown (server exit, not idle timeout).
func (a *Actor) drain(ctx context.Context) {
	a.state = StateDraining
	for peer := range a.sessions {
		peer.Close(wireproto.ErrRoomUnavailable)
	}
	a.forceSaveSync(ctx, docstore.ReasonCleanup)
}

func newDisarmedTimer() (*time.Timer, <-chan time.Time) {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t, nil
}

func resetTimer(t *time.Timer, d time.Duration) <-chan time.Time {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
	return t.C
}

func stopTimer(t *time.Timer) <-chan time.Time {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	return nil
}
