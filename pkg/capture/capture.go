// Package capture owns the continuous audio pipeline: it spawns one
// external ffmpeg process per session writing a growing WAV file,
// carves the most recent seconds into segment files on a fixed
// interval, feeds them through a transcription engine, and accumulates
// the text per session. A recovery controller restarts capture after
// the failure classes that history shows are transient (busy devices,
// flaky exits) and leaves the rest to the operator.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// Source selects which audio stream a session records. Values travel
// over the control plane verbatim.
type Source string

const (
	// SourceInterviewer is the remote party, captured from the system
	// loopback device.
	SourceInterviewer Source = "INTERVIEWER"
	// SourceInterviewee is the local microphone.
	SourceInterviewee Source = "INTERVIEWEE"
	// SourceBoth mixes loopback and microphone into one mono stream.
	SourceBoth Source = "BOTH"
	// SourceSystem is an alias for the loopback stream without the
	// interview framing.
	SourceSystem Source = "SYSTEM"
)

// ParseSource validates a wire-level source string.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceInterviewer, SourceInterviewee, SourceBoth, SourceSystem:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown capture source %q", s)
}

// Segment records one carved slice of a session's output file. The
// file itself is ephemeral; the struct remains as a trace.
type Segment struct {
	ID          string
	FilePath    string
	StartSec    float64
	DurationSec float64
	Transcript  string
}

// Update is published on a session's updates channel after every
// transcript append.
type Update struct {
	SessionID  string
	Text       string // fragment that was just appended
	Transcript string // full buffer snapshot after the append
	Timestamp  time.Time
}

// ErrNoAutoRecorder is returned by auto-recorder operations when no
// auto session is active.
var ErrNoAutoRecorder = errors.New("no active auto-recorder session")
