package capture

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// FailureClass partitions capture process failures by the recovery
// they admit. Classification happens once, at the process-adapter
// boundary; everything above the adapter switches on the class and
// never re-inspects stderr or errnos.
type FailureClass int

const (
	// FailureDeviceBusy means another program holds the audio device.
	FailureDeviceBusy FailureClass = iota
	// FailureDeviceMissing means the configured device does not exist.
	FailureDeviceMissing
	// FailureTransientExit is an unexpected exit with a code known to
	// be worth a blind restart.
	FailureTransientExit
	// FailureSpawnTransient is a spawn error whose errno indicates a
	// momentary condition.
	FailureSpawnTransient
	// FailureUnknown is everything else; logged for the operator, no
	// automatic recovery.
	FailureUnknown
)

func (c FailureClass) String() string {
	switch c {
	case FailureDeviceBusy:
		return "device_busy"
	case FailureDeviceMissing:
		return "device_missing"
	case FailureTransientExit:
		return "transient_exit"
	case FailureSpawnTransient:
		return "spawn_transient"
	default:
		return "unknown"
	}
}

// Failure is a classified capture process failure.
type Failure struct {
	Class    FailureClass
	Detail   string
	ExitCode int
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("capture failure (%s): %s: %v", f.Class, f.Detail, f.Err)
	}
	return fmt.Sprintf("capture failure (%s): %s", f.Class, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// Diagnostic-stream fragments that identify device conditions. Matched
// case-insensitively against the stderr tail.
var (
	busyPatterns = []string{
		"device or resource busy",
		"device is busy",
		"resource busy",
	}
	missingPatterns = []string{
		"no such device",
		"device not found",
		"could not open audio device",
		"unknown audio device",
	}
)

// Exit codes that earn an unprompted restart. ffmpeg reports most
// runtime stream failures as a generic 1. A clean exit never reaches
// this table: Wait returns no error for it, so ClassifyExit answers
// nil and the exit watcher synthesizes the transient class itself.
var recoverableExitCodes = map[int]bool{1: true}

// ClassifyExit classifies a capture process exit from its code, wait
// error and the last diagnostic lines it wrote. Device patterns beat
// exit codes: a busy device often exits with the same generic code as
// a flaky stream. Returns nil when the exit was clean and nothing in
// the diagnostics names a device condition.
func ClassifyExit(code int, err error, stderrTail []string) *Failure {
	tail := strings.ToLower(strings.Join(stderrTail, "\n"))
	detail := lastNonEmpty(stderrTail)

	for _, p := range busyPatterns {
		if strings.Contains(tail, p) {
			return &Failure{Class: FailureDeviceBusy, Detail: detail, ExitCode: code, Err: err}
		}
	}
	for _, p := range missingPatterns {
		if strings.Contains(tail, p) {
			return &Failure{Class: FailureDeviceMissing, Detail: detail, ExitCode: code, Err: err}
		}
	}

	if err == nil {
		return nil
	}

	if recoverableExitCodes[code] {
		return &Failure{Class: FailureTransientExit, Detail: detail, ExitCode: code, Err: err}
	}
	return &Failure{Class: FailureUnknown, Detail: detail, ExitCode: code, Err: err}
}

// ClassifySpawn classifies a process start error. Only a small errno
// allow-list counts as transient; anything else needs the operator.
func ClassifySpawn(err error) *Failure {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
		return &Failure{Class: FailureSpawnTransient, Detail: err.Error(), ExitCode: -1, Err: err}
	}
	return &Failure{Class: FailureUnknown, Detail: err.Error(), ExitCode: -1, Err: err}
}

// exitCode extracts the code from a cmd.Wait error; -1 when the
// process died without reporting one.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}
