// Package control is the local IPC surface the desktop shell attaches
// to: a websocket endpoint speaking a small JSON signal/command
// protocol. The shell sends signals (requests), the server answers
// with commands and pushes transcript events as sessions accumulate
// text.
package control

// Signal is an inbound frame from the shell.
type Signal struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Command is an outbound frame: a reply to a signal or a pushed event.
type Command struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Signal type constants
const (
	SignalTypePing              = "ping"
	SignalTypeStartRecording    = "startRecording"
	SignalTypeStopRecording     = "stopRecording"
	SignalTypeGetTranscript     = "getTranscript"
	SignalTypeStartAutoRecorder = "startAutoRecorder"
	SignalTypeForceFlush        = "forceFlush"
	SignalTypeResetFlush        = "resetFlush"
	SignalTypeStopAutoRecorder  = "stopAutoRecorder"
	SignalTypeListDevices       = "listDevices"
	SignalTypeCoach             = "coach"
)

// Command type constants
const (
	CommandTypePong                = "pong"
	CommandTypeRecordingStarted    = "recordingStarted"
	CommandTypeRecordingStopped    = "recordingStopped"
	CommandTypeTranscriptSnapshot  = "transcriptSnapshot"
	CommandTypeAutoRecorderStarted = "autoRecorderStarted"
	CommandTypeAutoRecorderStopped = "autoRecorderStopped"
	CommandTypeFlushResult         = "flushResult"
	CommandTypeFlushReset          = "flushReset"
	CommandTypeDevices             = "devices"
	CommandTypeCoachResponse       = "coachResponse"
	CommandTypeTranscript          = "transcript"
	CommandTypeError               = "error"
)

// errorCommand shapes a failure reply. op names the signal that failed
// so the shell can correlate.
func errorCommand(op string, err error) *Command {
	return &Command{
		Type: CommandTypeError,
		Data: map[string]any{
			"op":    op,
			"error": err.Error(),
		},
	}
}
