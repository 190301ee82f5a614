package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/interviewcopilot/copilot-go/pkg/audio/wav"
	"github.com/interviewcopilot/copilot-go/pkg/toolchain"
	"github.com/interviewcopilot/copilot-go/pkg/transcribe"
)

// Config tunes the pipeline. Zero fields take defaults, so tests can
// compress every interval without restating the rest.
type Config struct {
	// SegmentInterval is both the scheduler period and the carved
	// window length.
	SegmentInterval time.Duration
	// SegmentRetention keeps ephemeral segment files around briefly
	// for debugging before deletion.
	SegmentRetention time.Duration
	// StopGrace is how long a capture process gets to exit cleanly
	// before it is killed.
	StopGrace time.Duration
	// FinalWindow is the trailing slice transcribed during stop.
	FinalWindow time.Duration
	// UpdateBuffer sizes each session's updates channel.
	UpdateBuffer int

	// CaptureAPI overrides the platform default ffmpeg input format.
	CaptureAPI string
	// SystemDevice and MicDevice identify the loopback and microphone
	// inputs in the capture API's syntax.
	SystemDevice string
	MicDevice    string

	// Recovery pacing. The values mirror what field debugging of
	// flaky devices settled on; tests shrink them.
	BusyStopDelay         time.Duration
	BusyRestartDelay      time.Duration
	TransientRestartDelay time.Duration
	SpawnRetryDelay       time.Duration
}

// DefaultConfig returns production pacing.
func DefaultConfig() Config {
	return Config{
		SegmentInterval:       5 * time.Second,
		SegmentRetention:      60 * time.Second,
		StopGrace:             time.Second,
		FinalWindow:           10 * time.Second,
		UpdateBuffer:          16,
		CaptureAPI:            DefaultCaptureAPI(runtime.GOOS),
		SystemDevice:          ":default",
		MicDevice:             ":default",
		BusyStopDelay:         2 * time.Second,
		BusyRestartDelay:      time.Second,
		TransientRestartDelay: 3 * time.Second,
		SpawnRetryDelay:       2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SegmentInterval <= 0 {
		c.SegmentInterval = d.SegmentInterval
	}
	if c.SegmentRetention <= 0 {
		c.SegmentRetention = d.SegmentRetention
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	if c.FinalWindow <= 0 {
		c.FinalWindow = d.FinalWindow
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = d.UpdateBuffer
	}
	if c.CaptureAPI == "" {
		c.CaptureAPI = d.CaptureAPI
	}
	if c.SystemDevice == "" {
		c.SystemDevice = d.SystemDevice
	}
	if c.MicDevice == "" {
		c.MicDevice = d.MicDevice
	}
	if c.BusyStopDelay <= 0 {
		c.BusyStopDelay = d.BusyStopDelay
	}
	if c.BusyRestartDelay <= 0 {
		c.BusyRestartDelay = d.BusyRestartDelay
	}
	if c.TransientRestartDelay <= 0 {
		c.TransientRestartDelay = d.TransientRestartDelay
	}
	if c.SpawnRetryDelay <= 0 {
		c.SpawnRetryDelay = d.SpawnRetryDelay
	}
	return c
}

// Manager owns the session registry and every pipeline goroutine. One
// Manager per process; sessions are keyed by caller-supplied IDs.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	tools   toolchain.Toolchain
	engine  transcribe.Engine
	tempDir string

	prober    Prober
	extractor Extractor
	runner    Runner
	lister    DeviceLister

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu         sync.RWMutex
	recordings map[string]*Recording

	// opMu guards sessionOps. Each sessionOp serializes lifecycle
	// operations (start, stop, recovery force-stop) for one session;
	// different sessions never contend.
	opMu       sync.Mutex
	sessionOps map[string]*sessionOp

	// recovering maps a session to the failure event whose pending
	// recovery owns it. Stop and Start clear the entry; a restart
	// stands down unless its own failure still holds the claim.
	recoverMu  sync.Mutex
	recovering map[string]*Failure

	autoMu      sync.Mutex
	autoSession string
	autoActive  bool
}

// NewManager wires the pipeline against real external tools. It
// creates the process-lifetime temp directory that holds every
// session's files.
func NewManager(cfg Config, tc toolchain.Toolchain, engine transcribe.Engine, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "capture")

	tempDir, err := os.MkdirTemp("", "icp-capture-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create capture temp dir: %w", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		tools:      tc,
		engine:     engine,
		tempDir:    tempDir,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		recordings: make(map[string]*Recording),
		sessionOps: make(map[string]*sessionOp),
		recovering: make(map[string]*Failure),
	}
	m.prober = &ffprobeProber{
		bin:    tc.FFprobe,
		logger: logger,
		fallback: func(path string) (float64, error) {
			d, err := wav.Duration(path)
			return d.Seconds(), err
		},
	}
	m.extractor = &ffmpegExtractor{bin: tc.FFmpeg}
	m.runner = &execRunner{logger: logger}
	m.lister = &ffmpegDeviceLister{bin: tc.FFmpeg, api: m.cfg.CaptureAPI, logger: logger}
	return m, nil
}

// Start spawns a capture process for the session and begins
// segmentation. An existing recording under the same sessionID is
// fully stopped first, so Start doubles as restart, and any recovery
// restart still pending for the session stands down. Lifecycle
// operations on one session are serialized: concurrent starts cannot
// race a second capture process into existence.
func (m *Manager) Start(ctx context.Context, sessionID string, source Source) error {
	unlock := m.lockSession(sessionID)
	defer unlock()
	return m.startLocked(ctx, sessionID, source)
}

// startLocked does the spawn-and-register work of Start. The caller
// holds the session lock.
func (m *Manager) startLocked(ctx context.Context, sessionID string, source Source) error {
	if rec, ok := m.lookup(sessionID); ok {
		m.logger.Info("restarting capture", "session_id", sessionID, "source", source)
		m.stopRecording(ctx, rec)
	} else {
		// No recording, but a restart may still be pending for the
		// session (the busy-recovery gap); this start supersedes it.
		m.cancelRecovery(sessionID)
	}

	outputFile := filepath.Join(m.tempDir,
		fmt.Sprintf("%s-%d.wav", sessionID, time.Now().UnixMilli()))

	args, err := captureArgsFor(source, m.cfg.CaptureAPI, m.cfg.SystemDevice, m.cfg.MicDevice, outputFile)
	if err != nil {
		return err
	}

	proc, err := m.runner.Start(ctx, m.tools.FFmpeg, args)
	if err != nil {
		failure := ClassifySpawn(err)
		m.logger.Error("failed to spawn capture process",
			"session_id", sessionID, "class", failure.Class.String(), "error", err)
		if failure.Class == FailureSpawnTransient {
			// Claim before the error reaches the caller, so a Stop
			// issued in response can always cancel the retry.
			m.markRecovering(sessionID, failure)
			go m.recover(sessionID, source, nil, failure)
		}
		return fmt.Errorf("failed to start capture for session %s: %w", sessionID, err)
	}

	schedCtx, cancel := context.WithCancel(m.rootCtx)
	rec := &Recording{
		SessionID:  sessionID,
		Source:     source,
		OutputFile: outputFile,
		StartTime:  time.Now(),
		active:     true,
		proc:       proc,
		cancel:     cancel,
		updates:    make(chan Update, m.cfg.UpdateBuffer),
	}

	m.mu.Lock()
	m.recordings[sessionID] = rec
	m.mu.Unlock()

	go m.runScheduler(schedCtx, rec)
	go m.watch(rec, proc)

	m.logger.Info("capture started",
		"session_id", sessionID, "source", source, "output", outputFile)
	return nil
}

// Stop ends a session: cancel segmentation, stop the process with a
// grace period, transcribe the trailing window, and return the full
// trimmed transcript. Idempotent: an unknown session logs a warning
// and reports found=false. The registry entry is removed on every
// path, and any restart pending for the session stands down: stopped
// means stopped.
func (m *Manager) Stop(ctx context.Context, sessionID string) (string, bool) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	rec, ok := m.lookup(sessionID)
	if !ok {
		// A restart may still be pending for a session whose registry
		// entry is already gone (the busy-recovery gap).
		m.cancelRecovery(sessionID)
		m.logger.Warn("stop requested for unknown session", "session_id", sessionID)
		return "", false
	}
	return m.stopRecording(ctx, rec)
}

// stopRecording runs the full teardown of one recording. The caller
// holds the session lock. The recovery claim is revoked only after
// the stopping flag is set, so a process exit racing the stop cannot
// slip a fresh claim in behind the revocation.
func (m *Manager) stopRecording(ctx context.Context, rec *Recording) (string, bool) {
	if !rec.beginStop() {
		// Another stop owns the teardown; hand back what exists now.
		return rec.snapshot(), true
	}
	m.cancelRecovery(rec.SessionID)
	defer m.remove(rec)

	rec.cancel()
	if rec.proc != nil {
		rec.proc.Stop(m.cfg.StopGrace)
	}

	m.finalExtraction(ctx, rec)

	transcript := rec.snapshot()
	m.logger.Info("capture stopped",
		"session_id", rec.SessionID,
		"duration", time.Since(rec.StartTime).Round(time.Millisecond),
		"transcript_chars", len(transcript))
	return transcript, true
}

// finalExtraction carves the trailing window after the process has
// exited, catching speech after the last scheduler tick. Failures are
// logged and the stop proceeds; stop never raises.
func (m *Manager) finalExtraction(ctx context.Context, rec *Recording) {
	// The caller's context may already be done (process shutdown);
	// the tail still deserves a bounded attempt.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	totalSec, err := m.prober.Duration(fctx, rec.OutputFile)
	if err != nil {
		m.logger.Debug("final probe failed", "session_id", rec.SessionID, "error", err)
		return
	}
	if totalSec <= 0 {
		return
	}

	winSec := m.cfg.FinalWindow.Seconds()
	startSec := totalSec - winSec
	if startSec < 0 {
		startSec = 0
	}

	finalPath := filepath.Join(m.tempDir,
		fmt.Sprintf("final-%s-%d.wav", rec.SessionID, time.Now().UnixMilli()))
	if err := m.extractor.Extract(fctx, rec.OutputFile, startSec, winSec, finalPath); err != nil {
		m.logger.Warn("final extraction failed", "session_id", rec.SessionID, "error", err)
		return
	}
	m.scheduleCleanup(finalPath)

	text, err := m.engine.Transcribe(fctx, finalPath)
	if err != nil {
		m.logger.Error("final transcription failed", "session_id", rec.SessionID, "error", err)
		return
	}
	if text != "" {
		rec.append(text)
	}
}

// Transcript returns a snapshot of the session's accumulated text.
func (m *Manager) Transcript(sessionID string) (string, bool) {
	rec, ok := m.lookup(sessionID)
	if !ok {
		return "", false
	}
	return rec.snapshot(), true
}

// Updates returns the session's transcript update channel. The channel
// closes when the session is removed.
func (m *Manager) Updates(sessionID string) (<-chan Update, bool) {
	rec, ok := m.lookup(sessionID)
	if !ok {
		return nil, false
	}
	return rec.updates, true
}

// Segments returns a copy of the session's segment trace.
func (m *Manager) Segments(sessionID string) []Segment {
	rec, ok := m.lookup(sessionID)
	if !ok {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Segment, len(rec.segments))
	copy(out, rec.segments)
	return out
}

// Sessions lists the active session IDs.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.recordings))
	for id := range m.recordings {
		out = append(out, id)
	}
	return out
}

// ListDevices re-enumerates capture devices through the capture tool.
func (m *Manager) ListDevices(ctx context.Context) ([]Device, error) {
	return m.lister.List(ctx)
}

// Close stops every session and releases the temp directory.
func (m *Manager) Close(ctx context.Context) {
	m.rootCancel()
	for _, id := range m.Sessions() {
		m.Stop(ctx, id)
	}
	if err := os.RemoveAll(m.tempDir); err != nil {
		m.logger.Warn("failed to remove capture temp dir", "dir", m.tempDir, "error", err)
	}
}

// appendSegment routes a finished segment's text into the owning
// session. Going through the registry rather than a captured pointer
// is what makes late results for stopped sessions harmless: they are
// detected here and dropped.
func (m *Manager) appendSegment(sessionID string, seg Segment) {
	rec, ok := m.lookup(sessionID)
	if !ok {
		m.logger.Debug("dropping transcript for removed session",
			"session_id", sessionID, "chars", len(seg.Transcript))
		return
	}
	rec.recordSegment(seg)
	rec.append(seg.Transcript)
}

// watch routes a capture process exit into recovery, unless the exit
// was requested through the stop path. A clean exit with no stop
// requested means the source quit producing (loopback driver unload,
// device sleep) and is treated as a transient failure. The recovery
// claim is taken atomically against the stop flag.
func (m *Manager) watch(rec *Recording, proc Proc) {
	failure := proc.Wait()
	if failure == nil {
		failure = &Failure{
			Class:  FailureTransientExit,
			Detail: "capture process exited without error",
		}
	}
	if !rec.claimForRecovery(func() { m.markRecovering(rec.SessionID, failure) }) {
		return
	}
	m.recover(rec.SessionID, rec.Source, rec, failure)
}

func (m *Manager) lookup(sessionID string) (*Recording, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recordings[sessionID]
	return rec, ok
}

// remove deletes the registry entry and closes the updates channel.
// Safe to call more than once per recording.
func (m *Manager) remove(rec *Recording) {
	m.mu.Lock()
	if current, ok := m.recordings[rec.SessionID]; ok && current == rec {
		delete(m.recordings, rec.SessionID)
	}
	m.mu.Unlock()
	rec.close()
}

// sessionOp is the per-session lifecycle lock, reference-counted so
// the table does not accumulate dead session IDs.
type sessionOp struct {
	mu   sync.Mutex
	refs int
}

// lockSession serializes start, stop and recovery force-stop for one
// session and returns the release func.
func (m *Manager) lockSession(sessionID string) func() {
	m.opMu.Lock()
	op, ok := m.sessionOps[sessionID]
	if !ok {
		op = &sessionOp{}
		m.sessionOps[sessionID] = op
	}
	op.refs++
	m.opMu.Unlock()

	op.mu.Lock()
	return func() {
		op.mu.Unlock()
		m.opMu.Lock()
		op.refs--
		if op.refs == 0 {
			delete(m.sessionOps, sessionID)
		}
		m.opMu.Unlock()
	}
}
