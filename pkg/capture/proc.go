package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// stderrTailLines bounds how much diagnostic output is retained for
// failure classification.
const stderrTailLines = 20

// Runner spawns long-lived capture processes. The exec implementation
// is replaced by a fake in tests.
type Runner interface {
	Start(ctx context.Context, bin string, args []string) (Proc, error)
}

// Proc is a handle on one running capture process.
type Proc interface {
	// Wait blocks until the process exits and returns its classified
	// failure, nil for a clean or requested exit.
	Wait() *Failure
	// Stop asks the process to finalize its output and exit, waiting
	// up to grace before escalating to Kill.
	Stop(grace time.Duration)
	// Kill terminates immediately.
	Kill()
}

// Prober measures a media file's duration in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Extractor stream-copies a time window of input into a new file.
type Extractor interface {
	Extract(ctx context.Context, input string, startSec, durationSec float64, output string) error
}

type execRunner struct {
	logger *slog.Logger
}

func (r *execRunner) Start(ctx context.Context, bin string, args []string) (Proc, error) {
	cmd := exec.Command(bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open capture stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open capture stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProc{
		cmd:        cmd,
		stdin:      stdin,
		logger:     r.logger,
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go p.collectStderr(stderr)
	go p.waitLoop()
	return p, nil
}

type execProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	mu   sync.Mutex
	tail []string

	stderrDone chan struct{}
	done       chan struct{}
	failure    *Failure
}

func (p *execProc) collectStderr(r io.Reader) {
	defer close(p.stderrDone)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug("capture stderr", "line", line)
		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[1:]
		}
		p.mu.Unlock()
	}
}

func (p *execProc) waitLoop() {
	// Drain stderr before Wait closes the pipe out from under the
	// scanner.
	<-p.stderrDone
	err := p.cmd.Wait()

	p.mu.Lock()
	tail := make([]string, len(p.tail))
	copy(tail, p.tail)
	p.mu.Unlock()

	p.failure = ClassifyExit(exitCode(err), err, tail)
	close(p.done)
}

func (p *execProc) Wait() *Failure {
	<-p.done
	return p.failure
}

// Stop writes the interactive quit command so ffmpeg finalizes the WAV
// header, nudges with SIGTERM, and kills after the grace period.
func (p *execProc) Stop(grace time.Duration) {
	if p.stdin != nil {
		_, _ = p.stdin.Write([]byte("q"))
		_ = p.stdin.Close()
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(grace):
		p.logger.Warn("capture process ignored graceful stop, killing",
			"pid", p.cmd.Process.Pid, "grace", grace)
		p.Kill()
		<-p.done
	}
}

func (p *execProc) Kill() {
	_ = p.cmd.Process.Kill()
}

// ffprobeProber shells out to ffprobe; when that fails it falls back
// to WAV header math, which tolerates the half-written headers of a
// live capture file.
type ffprobeProber struct {
	bin      string
	logger   *slog.Logger
	fallback func(path string) (float64, error)
}

func (p *ffprobeProber) Duration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, p.bin, ProbeArgs(path)...).Output()
	if err == nil {
		if sec, perr := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); perr == nil {
			return sec, nil
		}
	}
	if p.fallback != nil {
		if sec, ferr := p.fallback(path); ferr == nil {
			p.logger.Debug("ffprobe failed, used header math", "path", path, "seconds", sec)
			return sec, nil
		}
	}
	if err == nil {
		err = fmt.Errorf("unparseable ffprobe output %q", strings.TrimSpace(string(out)))
	}
	return 0, fmt.Errorf("failed to probe %s: %w", path, err)
}

type ffmpegExtractor struct {
	bin string
}

func (e *ffmpegExtractor) Extract(ctx context.Context, input string, startSec, durationSec float64, output string) error {
	out, err := exec.CommandContext(ctx, e.bin, ExtractArgs(input, startSec, durationSec, output)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("segment extraction failed: %w (%s)", err, lastLine(string(out)))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
