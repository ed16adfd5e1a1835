package roomactor

import (
	"context"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
	"go.uber.org/zap"
)

// maybeSave starts a save if the document is dirty and no save is already
// in flight. If a save is already running, the dirty flag survives and
// handleSaveResult restarts the save once the in-flight one completes.
func (a *Actor) maybeSave(ctx context.Context, reason docstore.SaveReason) {
	if !a.dirty || a.saveInFlight {
		return
	}
	a.startSave(ctx, reason)
}

// forceSave starts a save immediately, bypassing the debounce timer, used
// when the last session leaves a room.
func (a *Actor) forceSave(ctx context.Context, reason docstore.SaveReason) {
	if !a.dirty || a.saveInFlight {
		return
	}
	a.startSave(ctx, reason)
}

func (a *Actor) startSave(ctx context.Context, reason docstore.SaveReason) {
	blob, err := a.doc.EncodeState()
	if err != nil {
		logging.Error(ctx, "encode document state failed, save skipped",
			zap.String("room_key", a.roomKey), zap.Error(err))
		return
	}
	text := a.doc.TextProjection()
	lang := a.language
	startedAtV := a.docVersion

	a.saveInFlight = true
	store := a.store
	roomKey := a.roomKey
	results := a.results
	go func() {
		start := time.Now()
		err := store.SaveRoom(roomKey, blob, text, lang, reason, time.Now())
		results <- saveResult{reason: reason, err: err, duration: time.Since(start), startedAtV: startedAtV}
	}()
}

func (a *Actor) handleSaveResult(ctx context.Context, res saveResult) {
	a.saveInFlight = false
	metrics.SaveDuration.WithLabelValues(string(res.reason)).Observe(res.duration.Seconds())

	if res.err != nil {
		metrics.SaveOutcomes.WithLabelValues(string(res.reason), "error").Inc()
		a.saveRetries++
		if a.saveRetries >= a.cfg.SaveRetryBudget && a.state != StateDegraded {
			a.state = StateDegraded
			a.broadcastAll(wireproto.NewWarning(wireproto.WarnPersistenceStalled, ""), true)
		}
		logging.Warn(ctx, "save failed, retrying with backoff",
			zap.String("room_key", a.roomKey), zap.Int("attempt", a.saveRetries), zap.Error(res.err))
		backoff := computeBackoff(a.saveRetries, a.cfg.SaveBackoffBase, a.cfg.SaveBackoffCap)
		a.debounceC = resetTimer(a.debounceTimer, backoff)
		return
	}

	metrics.SaveOutcomes.WithLabelValues(string(res.reason), "ok").Inc()
	a.saveRetries = 0
	if a.state == StateDegraded {
		a.state = StateRunning
	}

	if res.startedAtV == a.docVersion {
		a.dirty = false
		a.stalenessC = stopTimer(a.stalenessTimer)
		return
	}
	// Updates landed while this save was in flight; the snapshot we just
	// wrote is already stale, so start another one right away.
	a.startSave(ctx, res.reason)
}

// forceSaveSync performs a blocking save on the loop goroutine itself. Only
// used when the loop is about to return (drain, idle cleanup, panic
// recovery) and cannot wait for a result to arrive back through the select.
func (a *Actor) forceSaveSync(ctx context.Context, reason docstore.SaveReason) {
	blob, err := a.doc.EncodeState()
	if err != nil {
		logging.Error(ctx, "encode document state failed, final save skipped",
			zap.String("room_key", a.roomKey), zap.Error(err))
		return
	}
	start := time.Now()
	err = a.store.SaveRoom(a.roomKey, blob, a.doc.TextProjection(), a.language, reason, time.Now())
	metrics.SaveDuration.WithLabelValues(string(reason)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SaveOutcomes.WithLabelValues(string(reason), "error").Inc()
		logging.Error(ctx, "final save failed", zap.String("room_key", a.roomKey), zap.Error(err))
		return
	}
	metrics.SaveOutcomes.WithLabelValues(string(reason), "ok").Inc()
	a.dirty = false
}

// computeBackoff doubles from base on each attempt, capped at cap.
func computeBackoff(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
