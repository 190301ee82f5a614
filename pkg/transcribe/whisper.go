package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/interviewcopilot/copilot-go/pkg/toolchain"
)

// DefaultMinBytes is the smallest segment file worth sending to the
// engine. 8000 bytes is a quarter second of 16 kHz mono PCM; anything
// shorter is header plus noise.
const DefaultMinBytes = 8000

// Whisper runs a whisper.cpp-style CLI binary over segment files.
type Whisper struct {
	binary   string
	model    string
	minBytes int64
	logger   *slog.Logger

	// run executes the engine and returns its stdout. Tests inject a
	// fake; the default captures stderr into exec.ExitError.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewWhisper builds an engine from resolved toolchain paths.
func NewWhisper(tc toolchain.Toolchain, logger *slog.Logger) *Whisper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Whisper{
		binary:   tc.Whisper,
		model:    tc.Model,
		minBytes: DefaultMinBytes,
		logger:   logger.With("component", "transcribe"),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// WhisperArgs builds the engine's argument list. The input file is
// always last; external binary compatibility depends on this exact
// shape.
func WhisperArgs(modelPath, inputPath string) []string {
	return []string{
		"--model", modelPath,
		"--output-txt",
		"--no-prints",
		"--language", "auto",
		"--print-colors", "false",
		inputPath,
	}
}

// Transcribe runs the engine over one file and returns cleaned text.
// Missing or near-empty files are skipped without spawning anything.
// A non-zero engine exit is logged and reported as silence; only a
// spawn failure surfaces as an error.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		w.logger.Debug("segment file missing, skipping", "path", audioPath)
		return "", nil
	}
	if info.Size() < w.minBytes {
		w.logger.Debug("segment file too small, skipping",
			"path", audioPath, "bytes", info.Size(), "min", w.minBytes)
		return "", nil
	}

	out, err := w.run(ctx, w.binary, WhisperArgs(w.model, audioPath)...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			w.logger.Warn("transcription engine exited non-zero",
				"code", exitErr.ExitCode(),
				"stderr", strings.TrimSpace(string(exitErr.Stderr)))
			return "", nil
		}
		return "", fmt.Errorf("failed to spawn transcription engine %s: %w", w.binary, err)
	}

	text := strings.TrimSpace(string(out))
	if text == "" {
		text = w.readSidecar(audioPath)
	}

	return Clean(text), nil
}

// readSidecar picks up the <input-without-ext>.txt file the engine
// writes under --output-txt, then removes it. Empty string when the
// sidecar is absent.
func (w *Whisper) readSidecar(audioPath string) string {
	sidecar := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".txt"
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return ""
	}
	if err := os.Remove(sidecar); err != nil {
		w.logger.Debug("failed to remove sidecar", "path", sidecar, "error", err)
	}
	return strings.TrimSpace(string(data))
}
