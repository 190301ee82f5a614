package capture

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Recording is the per-session pipeline state. The capture process is
// the only writer of OutputFile; everything else reads it. All mutable
// fields are guarded by mu so scheduler ticks, stop paths and snapshot
// reads never race.
type Recording struct {
	SessionID  string
	Source     Source
	OutputFile string
	StartTime  time.Time

	mu         sync.Mutex
	active     bool
	stopping   bool
	closed     bool
	transcript string
	segments   []Segment
	proc       Proc
	cancel     context.CancelFunc
	updates    chan Update
}

// append joins text onto the accumulated transcript and publishes an
// update. Sends never block a scheduler tick: when the consumer lags,
// the update is dropped and only the buffer keeps the text. The send
// happens under mu so it serializes with close.
func (r *Recording) append(text string) Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transcript == "" {
		r.transcript = text
	} else {
		r.transcript += " " + text
	}
	u := Update{
		SessionID:  r.SessionID,
		Text:       text,
		Transcript: r.transcript,
		Timestamp:  time.Now(),
	}
	if r.closed || r.updates == nil {
		return u
	}
	select {
	case r.updates <- u:
	default:
	}
	return u
}

// recordSegment keeps the segment trace alongside the transcript.
func (r *Recording) recordSegment(seg Segment) {
	r.mu.Lock()
	r.segments = append(r.segments, seg)
	r.mu.Unlock()
}

// snapshot returns the trimmed accumulated transcript.
func (r *Recording) snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.TrimSpace(r.transcript)
}

// reset clears the accumulated transcript. The only callers are the
// auto-recorder's explicit post-flush reset and nothing else; segment
// completion and stop paths never shrink the buffer.
func (r *Recording) reset() {
	r.mu.Lock()
	r.transcript = ""
	r.mu.Unlock()
}

// beginStop transitions into the stopping state. It reports false when
// another stop already owns the teardown.
func (r *Recording) beginStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return false
	}
	r.stopping = true
	r.active = false
	return true
}

// claimForRecovery runs claim unless a stop already owns the
// recording, so the process watcher can tell an intentional
// termination from a failure. Check and claim share the lock: a
// concurrent Stop either prevents the claim or is guaranteed to
// observe it.
func (r *Recording) claimForRecovery(claim func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return false
	}
	claim()
	return true
}

// Active reports whether the recording is still capturing.
func (r *Recording) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// close marks the recording gone and closes its updates channel.
// Idempotent; called exactly once from the registry removal path.
func (r *Recording) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.updates != nil {
		close(r.updates)
	}
}
