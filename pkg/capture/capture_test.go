package capture

// Test doubles for the subprocess boundary. Everything the pipeline
// shells out to (capture process, duration probe, window extraction,
// transcription engine, device listing) is replaced here so the
// scenario tests run in milliseconds with no external binaries.

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeProc struct {
	once    sync.Once
	done    chan struct{}
	failure *Failure

	mu      sync.Mutex
	stopped bool
	killed  bool
}

func newFakeProc() *fakeProc {
	return &fakeProc{done: make(chan struct{})}
}

func (p *fakeProc) Wait() *Failure {
	<-p.done
	return p.failure
}

func (p *fakeProc) Stop(grace time.Duration) {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.finish(nil)
}

func (p *fakeProc) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish(nil)
}

// fail simulates the process dying with a classified failure.
func (p *fakeProc) fail(f *Failure) { p.finish(f) }

func (p *fakeProc) finish(f *Failure) {
	p.once.Do(func() {
		p.failure = f
		close(p.done)
	})
}

func (p *fakeProc) wasStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type spawn struct {
	bin  string
	args []string
	proc *fakeProc
}

type fakeRunner struct {
	mu       sync.Mutex
	spawns   []spawn
	errQueue []error // consumed one per Start before succeeding
}

func (r *fakeRunner) Start(ctx context.Context, bin string, args []string) (Proc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errQueue) > 0 {
		err := r.errQueue[0]
		r.errQueue = r.errQueue[1:]
		return nil, err
	}
	p := newFakeProc()
	r.spawns = append(r.spawns, spawn{bin: bin, args: args, proc: p})
	// The real capture tool creates the output file immediately.
	_ = os.WriteFile(args[len(args)-1], []byte("RIFFfake"), 0o644)
	return p, nil
}

func (r *fakeRunner) spawnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spawns)
}

func (r *fakeRunner) proc(i int) *fakeProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spawns[i].proc
}

type fakeProber struct {
	mu    sync.Mutex
	calls int
	// duration reports total seconds for the nth call (1-based).
	duration func(call int) float64
}

func (p *fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.duration == nil {
		return float64(p.calls) * 5, nil
	}
	return p.duration(p.calls), nil
}

type extraction struct {
	input    string
	startSec float64
	durSec   float64
	output   string
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls []extraction
}

func (e *fakeExtractor) Extract(ctx context.Context, input string, startSec, durSec float64, output string) error {
	e.mu.Lock()
	e.calls = append(e.calls, extraction{input, startSec, durSec, output})
	e.mu.Unlock()
	return os.WriteFile(output, []byte("RIFFseg"), 0o644)
}

func (e *fakeExtractor) extractions() []extraction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]extraction, len(e.calls))
	copy(out, e.calls)
	return out
}

// routeEngine answers segment files from a script and final-window
// files with a fixed tail, so scheduler timing jitter cannot change
// what a test observes: exhausted scripts produce silence.
type routeEngine struct {
	mu        sync.Mutex
	segments  []string
	next      int
	finalText string
	paths     []string
	err       error
}

func (e *routeEngine) Transcribe(ctx context.Context, path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = append(e.paths, path)
	if e.err != nil {
		return "", e.err
	}
	if strings.HasPrefix(filepath.Base(path), "final-") {
		return e.finalText, nil
	}
	if e.next < len(e.segments) {
		t := e.segments[e.next]
		e.next++
		return t, nil
	}
	return "", nil
}

func (e *routeEngine) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.paths))
	copy(out, e.paths)
	return out
}

type fakeLister struct {
	mu      sync.Mutex
	calls   int
	devices []Device
}

func (l *fakeLister) List(ctx context.Context) ([]Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.devices, nil
}

func (l *fakeLister) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type testPipeline struct {
	m         *Manager
	runner    *fakeRunner
	prober    *fakeProber
	extractor *fakeExtractor
	engine    *routeEngine
	lister    *fakeLister
}

// newTestPipeline builds a Manager with compressed pacing and every
// subprocess adapter faked.
func newTestPipeline(t *testing.T, cfg Config) *testPipeline {
	t.Helper()

	if cfg.SegmentInterval == 0 {
		cfg.SegmentInterval = 20 * time.Millisecond
	}
	if cfg.SegmentRetention == 0 {
		cfg.SegmentRetention = time.Hour // keep files observable
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 50 * time.Millisecond
	}
	if cfg.FinalWindow == 0 {
		cfg.FinalWindow = 100 * time.Millisecond
	}
	if cfg.BusyStopDelay == 0 {
		cfg.BusyStopDelay = 5 * time.Millisecond
	}
	if cfg.BusyRestartDelay == 0 {
		cfg.BusyRestartDelay = 5 * time.Millisecond
	}
	if cfg.TransientRestartDelay == 0 {
		cfg.TransientRestartDelay = 5 * time.Millisecond
	}
	if cfg.SpawnRetryDelay == 0 {
		cfg.SpawnRetryDelay = 5 * time.Millisecond
	}
	cfg.CaptureAPI = "pulse"
	cfg.SystemDevice = "sys.monitor"
	cfg.MicDevice = "mic0"

	rootCtx, rootCancel := context.WithCancel(context.Background())
	p := &testPipeline{
		runner:    &fakeRunner{},
		prober:    &fakeProber{},
		extractor: &fakeExtractor{},
		engine:    &routeEngine{},
		lister:    &fakeLister{},
	}
	p.m = &Manager{
		cfg:        cfg.withDefaults(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tempDir:    t.TempDir(),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		recordings: make(map[string]*Recording),
		sessionOps: make(map[string]*sessionOp),
		recovering: make(map[string]*Failure),
		prober:     p.prober,
		extractor:  p.extractor,
		runner:     p.runner,
		lister:     p.lister,
		engine:     p.engine,
	}
	t.Cleanup(rootCancel)
	return p
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// collectUpdates receives n updates or fails the test.
func collectUpdates(t *testing.T, ch <-chan Update, n int) []Update {
	t.Helper()
	var out []Update
	for i := 0; i < n; i++ {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatalf("updates channel closed after %d of %d updates", i, n)
			}
			out = append(out, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d of %d", i+1, n)
		}
	}
	return out
}
