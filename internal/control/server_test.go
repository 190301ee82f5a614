package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/interviewcopilot/copilot-go/pkg/capture"
	"github.com/interviewcopilot/copilot-go/pkg/coach"
	coachfake "github.com/interviewcopilot/copilot-go/pkg/coach/fake"
)

// fakeRecorder satisfies Recorder with scripted results and records
// every call so tests can assert dispatch.
type fakeRecorder struct {
	mu          sync.Mutex
	started     []string
	stopped     []string
	autoStarted []string
	resets      int

	startErr    error
	transcripts map[string]string
	updates     map[string]chan capture.Update

	flushText     string
	flushErr      error
	resetErr      error
	autoStopText  string
	autoStopFound bool
	devices       []capture.Device
	devicesErr    error
}

func (f *fakeRecorder) Start(ctx context.Context, sessionID string, source capture.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, sessionID+"/"+string(source))
	return nil
}

func (f *fakeRecorder) Stop(ctx context.Context, sessionID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
	t, ok := f.transcripts[sessionID]
	return t, ok
}

func (f *fakeRecorder) Transcript(sessionID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transcripts[sessionID]
	return t, ok
}

func (f *fakeRecorder) Updates(sessionID string) (<-chan capture.Update, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.updates[sessionID]
	return ch, ok
}

func (f *fakeRecorder) StartAutoRecorder(ctx context.Context, sessionID string, source capture.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.autoStarted = append(f.autoStarted, sessionID+"/"+string(source))
	return nil
}

func (f *fakeRecorder) ForceFlush(ctx context.Context) (string, error) {
	return f.flushText, f.flushErr
}

func (f *fakeRecorder) ResetAfterFlush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets++
	return nil
}

func (f *fakeRecorder) StopAutoRecorder(ctx context.Context) (string, bool) {
	return f.autoStopText, f.autoStopFound
}

func (f *fakeRecorder) ListDevices(ctx context.Context) ([]capture.Device, error) {
	return f.devices, f.devicesErr
}

func (f *fakeRecorder) startedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.started))
	copy(out, f.started)
	return out
}

func dialTestServer(t *testing.T, rec Recorder, c coach.Coach) *websocket.Conn {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ts := httptest.NewServer(NewServer(rec, c, logger).Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/control"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readCommand(t *testing.T, conn *websocket.Conn) Command {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd Command
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	return cmd
}

func roundTrip(t *testing.T, conn *websocket.Conn, sig Signal) Command {
	t.Helper()
	if err := conn.WriteJSON(sig); err != nil {
		t.Fatalf("write signal %s: %v", sig.Type, err)
	}
	return readCommand(t, conn)
}

func TestPingPong(t *testing.T) {
	is := is.New(t)
	conn := dialTestServer(t, &fakeRecorder{}, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypePing,
		Data: map[string]any{"id": "shell-1"},
	})

	is.Equal(cmd.Type, CommandTypePong)  // ping should answer with pong
	is.Equal(cmd.Data["id"], "shell-1")  // pong should echo the ping data
}

func TestStartRecordingDispatchesAndAcks(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{}
	conn := dialTestServer(t, rec, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeStartRecording,
		Data: map[string]any{"sessionId": "sess-1", "source": "INTERVIEWER"},
	})

	is.Equal(cmd.Type, CommandTypeRecordingStarted) // start should ack
	is.Equal(cmd.Data["sessionId"], "sess-1")
	is.Equal(cmd.Data["source"], "INTERVIEWER")
	is.Equal(rec.startedCalls(), []string{"sess-1/INTERVIEWER"}) // recorder should receive the start
}

func TestStartRecordingForwardsTranscriptEvents(t *testing.T) {
	is := is.New(t)
	updates := make(chan capture.Update, 4)
	rec := &fakeRecorder{
		updates: map[string]chan capture.Update{"sess-1": updates},
	}
	conn := dialTestServer(t, rec, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeStartRecording,
		Data: map[string]any{"sessionId": "sess-1", "source": "BOTH"},
	})
	is.Equal(cmd.Type, CommandTypeRecordingStarted)

	updates <- capture.Update{
		SessionID:  "sess-1",
		Text:       "hello there",
		Transcript: "hello there",
		Timestamp:  time.Now(),
	}

	event := readCommand(t, conn)
	is.Equal(event.Type, CommandTypeTranscript)      // appended text should be pushed
	is.Equal(event.Data["sessionId"], "sess-1")      // event should carry the session
	is.Equal(event.Data["text"], "hello there")      // fragment that was appended
	is.Equal(event.Data["transcript"], "hello there") // full buffer snapshot
}

func TestStartRecordingRejectsBadSource(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{}
	conn := dialTestServer(t, rec, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeStartRecording,
		Data: map[string]any{"sessionId": "sess-1", "source": "MICROPHONE"},
	})

	is.Equal(cmd.Type, CommandTypeError)               // unknown source should fail
	is.Equal(cmd.Data["op"], SignalTypeStartRecording) // error should name the op
	is.Equal(len(rec.startedCalls()), 0)               // recorder should not be called
}

func TestStartRecordingRequiresSessionID(t *testing.T) {
	is := is.New(t)
	conn := dialTestServer(t, &fakeRecorder{}, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeStartRecording,
		Data: map[string]any{"source": "INTERVIEWER"},
	})

	is.Equal(cmd.Type, CommandTypeError)
}

func TestStopRecordingReturnsTranscript(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{
		transcripts: map[string]string{"sess-1": "tell me about a hard bug"},
	}
	conn := dialTestServer(t, rec, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeStopRecording,
		Data: map[string]any{"sessionId": "sess-1"},
	})

	is.Equal(cmd.Type, CommandTypeRecordingStopped)
	is.Equal(cmd.Data["transcript"], "tell me about a hard bug")
	is.Equal(cmd.Data["found"], true)
}

func TestStopRecordingUnknownSessionReportsNotFound(t *testing.T) {
	is := is.New(t)
	conn := dialTestServer(t, &fakeRecorder{}, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeStopRecording,
		Data: map[string]any{"sessionId": "ghost"},
	})

	// Stop is idempotent: no error frame, just found=false.
	is.Equal(cmd.Type, CommandTypeRecordingStopped)
	is.Equal(cmd.Data["found"], false)
	is.Equal(cmd.Data["transcript"], "")
}

func TestGetTranscriptSnapshot(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{
		transcripts: map[string]string{"sess-2": "what is your greatest strength"},
	}
	conn := dialTestServer(t, rec, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeGetTranscript,
		Data: map[string]any{"sessionId": "sess-2"},
	})

	is.Equal(cmd.Type, CommandTypeTranscriptSnapshot)
	is.Equal(cmd.Data["transcript"], "what is your greatest strength")
	is.Equal(cmd.Data["found"], true)
}

func TestForceFlushThenReset(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{flushText: "first answer so far"}
	conn := dialTestServer(t, rec, nil)

	flush := roundTrip(t, conn, Signal{Type: SignalTypeForceFlush})
	is.Equal(flush.Type, CommandTypeFlushResult)
	is.Equal(flush.Data["transcript"], "first answer so far")

	reset := roundTrip(t, conn, Signal{Type: SignalTypeResetFlush})
	is.Equal(reset.Type, CommandTypeFlushReset)

	rec.mu.Lock()
	resets := rec.resets
	rec.mu.Unlock()
	is.Equal(resets, 1) // reset should reach the recorder
}

func TestForceFlushWithoutAutoRecorderFails(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{flushErr: capture.ErrNoAutoRecorder}
	conn := dialTestServer(t, rec, nil)

	cmd := roundTrip(t, conn, Signal{Type: SignalTypeForceFlush})

	is.Equal(cmd.Type, CommandTypeError)
	is.Equal(cmd.Data["op"], SignalTypeForceFlush)
}

func TestStartAndStopAutoRecorder(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{autoStopText: "closing thoughts", autoStopFound: true}
	conn := dialTestServer(t, rec, nil)

	started := roundTrip(t, conn, Signal{
		Type: SignalTypeStartAutoRecorder,
		Data: map[string]any{"sessionId": "auto-1", "source": "INTERVIEWEE"},
	})
	is.Equal(started.Type, CommandTypeAutoRecorderStarted)

	stopped := roundTrip(t, conn, Signal{Type: SignalTypeStopAutoRecorder})
	is.Equal(stopped.Type, CommandTypeAutoRecorderStopped)
	is.Equal(stopped.Data["transcript"], "closing thoughts")
	is.Equal(stopped.Data["found"], true)
}

func TestListDevices(t *testing.T) {
	is := is.New(t)
	rec := &fakeRecorder{
		devices: []capture.Device{
			{Index: 0, Name: "MacBook Pro Microphone"},
			{Index: 1, Name: "BlackHole 2ch", Loopback: true},
		},
	}
	conn := dialTestServer(t, rec, nil)

	cmd := roundTrip(t, conn, Signal{Type: SignalTypeListDevices})

	is.Equal(cmd.Type, CommandTypeDevices)
	devices, ok := cmd.Data["devices"].([]any)
	is.True(ok)            // devices should be a JSON array
	is.Equal(len(devices), 2)

	first, ok := devices[0].(map[string]any)
	is.True(ok)
	is.Equal(first["name"], "MacBook Pro Microphone")

	second, ok := devices[1].(map[string]any)
	is.True(ok)
	is.Equal(second["loopback"], true)
}

func TestCoachRespondsWithExplicitTranscript(t *testing.T) {
	is := is.New(t)
	fc := coachfake.NewFakeCoach("Quantify the result.")
	conn := dialTestServer(t, &fakeRecorder{}, fc)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeCoach,
		Data: map[string]any{"transcript": "I rewrote the billing service"},
	})

	is.Equal(cmd.Type, CommandTypeCoachResponse)
	is.Equal(cmd.Data["response"], "Quantify the result.")
	is.Equal(fc.Transcripts(), []string{"I rewrote the billing service"})
}

func TestCoachFallsBackToSessionTranscript(t *testing.T) {
	is := is.New(t)
	fc := coachfake.NewFakeCoach("")
	rec := &fakeRecorder{
		transcripts: map[string]string{"sess-1": "we migrated the database"},
	}
	conn := dialTestServer(t, rec, fc)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeCoach,
		Data: map[string]any{"sessionId": "sess-1"},
	})

	is.Equal(cmd.Type, CommandTypeCoachResponse)
	is.Equal(fc.Transcripts(), []string{"we migrated the database"}) // coach should see the stored transcript
}

func TestCoachDisabled(t *testing.T) {
	is := is.New(t)
	conn := dialTestServer(t, &fakeRecorder{}, nil)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeCoach,
		Data: map[string]any{"transcript": "anything"},
	})

	is.Equal(cmd.Type, CommandTypeError)
	is.Equal(cmd.Data["op"], SignalTypeCoach)
}

func TestCoachFailurePropagates(t *testing.T) {
	is := is.New(t)
	fc := coachfake.NewFakeCoach("")
	fc.FailWith(errors.New("rate limited"))
	conn := dialTestServer(t, &fakeRecorder{}, fc)

	cmd := roundTrip(t, conn, Signal{
		Type: SignalTypeCoach,
		Data: map[string]any{"transcript": "anything"},
	})

	is.Equal(cmd.Type, CommandTypeError)
	is.Equal(cmd.Data["error"], "rate limited")
}

func TestUnknownSignalAnswersError(t *testing.T) {
	is := is.New(t)
	conn := dialTestServer(t, &fakeRecorder{}, nil)

	cmd := roundTrip(t, conn, Signal{Type: "selfDestruct"})

	is.Equal(cmd.Type, CommandTypeError)
	is.Equal(cmd.Data["op"], "selfDestruct")
}
