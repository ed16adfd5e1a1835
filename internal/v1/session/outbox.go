package session

import (
	"sync"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/wireproto"
)

// maxOutboxFrames bounds how many undelivered frames a Session will hold
// for a slow client before eviction or backpressure kicks in.
const maxOutboxFrames = 256

// outbox is a bounded, mutation-guarded queue of frames waiting to be
// written to the client. Cursor/typing frames are evictable: when full,
// the oldest evictable entry is dropped to make room for a new one. CRDT
// and membership frames are not evictable; if no evictable entry can be
// dropped to make room, push reports failure and the caller closes the
// session instead of silently losing the update.
type outbox struct {
	mu        sync.Mutex
	frames    []*wireproto.ServerFrame
	evictable []bool
	dropped   int
	notify    chan struct{}
	closed    bool
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

// push enqueues frame. Overflow evicts the oldest evictable entry; if none
// exists, an evictable frame is dropped (reported as false) and a
// non-evictable frame cannot be queued at all, which the caller must treat
// as backpressure. Pushing to a closed outbox always fails.
func (o *outbox) push(frame *wireproto.ServerFrame, evictable bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}

	if len(o.frames) >= maxOutboxFrames {
		idx := -1
		for i, ev := range o.evictable {
			if ev {
				idx = i
				break
			}
		}
		if idx == -1 {
			if evictable {
				o.dropped++
			}
			return false
		}
		o.frames = append(o.frames[:idx], o.frames[idx+1:]...)
		o.evictable = append(o.evictable[:idx], o.evictable[idx+1:]...)
		o.dropped++
	}

	o.frames = append(o.frames, frame)
	o.evictable = append(o.evictable, evictable)
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns every currently-queued frame. If any transient
// frames were evicted since the last drain, a DroppedFrames warning with
// the count is appended for the client.
func (o *outbox) drain() []*wireproto.ServerFrame {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := o.frames
	o.frames = nil
	o.evictable = nil
	if o.dropped > 0 {
		warn := wireproto.NewWarning(wireproto.WarnDroppedFrames, "")
		warn.Count = o.dropped
		o.dropped = 0
		frames = append(frames, warn)
	}
	return frames
}

// close marks the outbox closed and wakes the write pump so it can flush
// what is queued and exit; subsequent push calls fail.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
