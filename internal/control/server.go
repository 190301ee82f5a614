package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interviewcopilot/copilot-go/pkg/capture"
	"github.com/interviewcopilot/copilot-go/pkg/coach"
)

// Recorder is the slice of the capture manager the control plane
// drives. *capture.Manager satisfies it; tests substitute a fake.
type Recorder interface {
	Start(ctx context.Context, sessionID string, source capture.Source) error
	Stop(ctx context.Context, sessionID string) (string, bool)
	Transcript(sessionID string) (string, bool)
	Updates(sessionID string) (<-chan capture.Update, bool)
	StartAutoRecorder(ctx context.Context, sessionID string, source capture.Source) error
	ForceFlush(ctx context.Context) (string, error)
	ResetAfterFlush() error
	StopAutoRecorder(ctx context.Context) (string, bool)
	ListDevices(ctx context.Context) ([]capture.Device, error)
}

// Server accepts websocket connections from the desktop shell and
// dispatches its signals onto the recorder and coach.
type Server struct {
	recorder Recorder
	coach    coach.Coach // nil when coaching is disabled
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(recorder Recorder, c coach.Coach, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		recorder: recorder,
		coach:    c,
		logger:   logger.With("component", "control"),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// The endpoint binds to loopback and the shell connects
			// from an app origin that never matches Host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler exposes the websocket endpoint, for mounting under a custom
// mux or an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.handleWS)
	mux.HandleFunc("/healthz", handleHealth)
	return mux
}

// Run serves the control endpoint on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed, closing", "error", err)
		return srv.Close()
	}
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.serveConn(r.Context(), conn)
}

// wsSession is one shell connection. All writes to the socket go
// through the out channel so pushed events and replies never
// interleave mid-frame.
type wsSession struct {
	conn *websocket.Conn
	in   chan *Signal
	out  chan *Command
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	sess := &wsSession{
		conn: conn,
		in:   make(chan *Signal, 100),
		out:  make(chan *Command, 100),
	}
	s.logger.Info("shell connected", "remote", conn.RemoteAddr().String())

	readCtx, readCancel := context.WithCancel(ctx)
	defer readCancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// Signal reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.readSignals(readCtx); err != nil {
			errCh <- fmt.Errorf("read signals: %w", err)
		}
	}()

	// Command writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.writeCommands(readCtx); err != nil {
			errCh <- fmt.Errorf("write commands: %w", err)
		}
	}()

	// Signal processor
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.processSignals(readCtx, sess)
	}()

	select {
	case err := <-errCh:
		s.logger.Debug("connection ended", "error", err)
	case <-ctx.Done():
	}

	// Closing the socket unblocks a reader parked in ReadJSON.
	readCancel()
	conn.Close()
	wg.Wait()
	s.logger.Info("shell disconnected")
}

func (sess *wsSession) readSignals(ctx context.Context) error {
	for {
		var sig Signal
		if err := sess.conn.ReadJSON(&sig); err != nil {
			return err
		}
		select {
		case sess.in <- &sig:
		case <-ctx.Done():
			return nil
		}
	}
}

func (sess *wsSession) writeCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-sess.out:
			if err := sess.conn.WriteJSON(cmd); err != nil {
				return err
			}
		}
	}
}

func (sess *wsSession) send(ctx context.Context, cmd *Command) {
	select {
	case sess.out <- cmd:
	case <-ctx.Done():
	}
}

func (s *Server) processSignals(ctx context.Context, sess *wsSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sess.in:
			s.handleSignal(ctx, sess, sig)
		}
	}
}

func (s *Server) handleSignal(ctx context.Context, sess *wsSession, sig *Signal) {
	s.logger.Debug("processing signal", "type", sig.Type)

	var reply *Command
	switch sig.Type {
	case SignalTypePing:
		reply = &Command{Type: CommandTypePong, Data: sig.Data}

	case SignalTypeStartRecording:
		reply = s.startRecording(ctx, sess, sig)

	case SignalTypeStopRecording:
		sessionID := stringField(sig.Data, "sessionId")
		transcript, found := s.recorder.Stop(ctx, sessionID)
		reply = &Command{Type: CommandTypeRecordingStopped, Data: map[string]any{
			"sessionId":  sessionID,
			"transcript": transcript,
			"found":      found,
		}}

	case SignalTypeGetTranscript:
		sessionID := stringField(sig.Data, "sessionId")
		transcript, found := s.recorder.Transcript(sessionID)
		reply = &Command{Type: CommandTypeTranscriptSnapshot, Data: map[string]any{
			"sessionId":  sessionID,
			"transcript": transcript,
			"found":      found,
		}}

	case SignalTypeStartAutoRecorder:
		reply = s.startAutoRecorder(ctx, sess, sig)

	case SignalTypeForceFlush:
		transcript, err := s.recorder.ForceFlush(ctx)
		if err != nil {
			reply = errorCommand(sig.Type, err)
		} else {
			reply = &Command{Type: CommandTypeFlushResult, Data: map[string]any{
				"transcript": transcript,
			}}
		}

	case SignalTypeResetFlush:
		if err := s.recorder.ResetAfterFlush(); err != nil {
			reply = errorCommand(sig.Type, err)
		} else {
			reply = &Command{Type: CommandTypeFlushReset}
		}

	case SignalTypeStopAutoRecorder:
		transcript, found := s.recorder.StopAutoRecorder(ctx)
		reply = &Command{Type: CommandTypeAutoRecorderStopped, Data: map[string]any{
			"transcript": transcript,
			"found":      found,
		}}

	case SignalTypeListDevices:
		devices, err := s.recorder.ListDevices(ctx)
		if err != nil {
			reply = errorCommand(sig.Type, err)
		} else {
			reply = &Command{Type: CommandTypeDevices, Data: map[string]any{
				"devices": devices,
			}}
		}

	case SignalTypeCoach:
		reply = s.coachRespond(ctx, sig)

	default:
		s.logger.Warn("unknown signal type", "type", sig.Type)
		reply = errorCommand(sig.Type, fmt.Errorf("unknown signal type %q", sig.Type))
	}

	if reply != nil {
		sess.send(ctx, reply)
	}
}

func (s *Server) startRecording(ctx context.Context, sess *wsSession, sig *Signal) *Command {
	sessionID := stringField(sig.Data, "sessionId")
	if sessionID == "" {
		return errorCommand(sig.Type, errors.New("missing sessionId"))
	}
	source, err := capture.ParseSource(stringField(sig.Data, "source"))
	if err != nil {
		return errorCommand(sig.Type, err)
	}
	if err := s.recorder.Start(ctx, sessionID, source); err != nil {
		return errorCommand(sig.Type, err)
	}
	go s.forwardUpdates(ctx, sess, sessionID)
	return &Command{Type: CommandTypeRecordingStarted, Data: map[string]any{
		"sessionId": sessionID,
		"source":    string(source),
	}}
}

func (s *Server) startAutoRecorder(ctx context.Context, sess *wsSession, sig *Signal) *Command {
	sessionID := stringField(sig.Data, "sessionId")
	if sessionID == "" {
		return errorCommand(sig.Type, errors.New("missing sessionId"))
	}
	source, err := capture.ParseSource(stringField(sig.Data, "source"))
	if err != nil {
		return errorCommand(sig.Type, err)
	}
	if err := s.recorder.StartAutoRecorder(ctx, sessionID, source); err != nil {
		return errorCommand(sig.Type, err)
	}
	go s.forwardUpdates(ctx, sess, sessionID)
	return &Command{Type: CommandTypeAutoRecorderStarted, Data: map[string]any{
		"sessionId": sessionID,
		"source":    string(source),
	}}
}

func (s *Server) coachRespond(ctx context.Context, sig *Signal) *Command {
	if s.coach == nil {
		return errorCommand(sig.Type, errors.New("coach is not configured"))
	}
	transcript := stringField(sig.Data, "transcript")
	if transcript == "" {
		if sessionID := stringField(sig.Data, "sessionId"); sessionID != "" {
			transcript, _ = s.recorder.Transcript(sessionID)
		}
	}
	if transcript == "" {
		return errorCommand(sig.Type, errors.New("nothing to coach: empty transcript"))
	}
	answer, err := s.coach.Respond(ctx, transcript)
	if err != nil {
		return errorCommand(sig.Type, err)
	}
	return &Command{Type: CommandTypeCoachResponse, Data: map[string]any{
		"response": answer,
	}}
}

// forwardUpdates pushes transcript events for one session until its
// updates channel closes or the connection dies.
func (s *Server) forwardUpdates(ctx context.Context, sess *wsSession, sessionID string) {
	updates, ok := s.recorder.Updates(sessionID)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			sess.send(ctx, &Command{
				Type: CommandTypeTranscript,
				Data: map[string]any{
					"sessionId":  u.SessionID,
					"text":       u.Text,
					"transcript": u.Transcript,
					"timestamp":  u.Timestamp.UnixMilli(),
				},
			})
		}
	}
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}
