package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// The auto-recorder is a singleton view over one ordinary session: the
// desktop shell starts it once and then drives it with hotkeys. Its
// contract differs from plain sessions in one way: forceFlush must
// capture speech too recent for the periodic scheduler, so it copies
// and transcribes the whole current output file instead of a trailing
// window.

// StartAutoRecorder begins the auto session. Any previous auto session
// is stopped first; at most one exists per Manager.
func (m *Manager) StartAutoRecorder(ctx context.Context, sessionID string, source Source) error {
	m.autoMu.Lock()
	prev := ""
	if m.autoActive {
		prev = m.autoSession
	}
	m.autoMu.Unlock()

	if prev != "" && prev != sessionID {
		m.logger.Info("replacing auto-recorder session", "previous", prev, "next", sessionID)
		m.Stop(ctx, prev)
	}

	if err := m.Start(ctx, sessionID, source); err != nil {
		return err
	}

	m.autoMu.Lock()
	m.autoSession = sessionID
	m.autoActive = true
	m.autoMu.Unlock()
	return nil
}

// ForceFlush transcribes the entire output file rather than a trailing
// window, appends any new text, and returns the accumulated transcript.
// It blocks until transcription completes: when it returns, the buffer
// includes speech up to the moment of the call.
func (m *Manager) ForceFlush(ctx context.Context) (string, error) {
	sessionID, ok := m.autoSessionID()
	if !ok {
		return "", ErrNoAutoRecorder
	}
	rec, ok := m.lookup(sessionID)
	if !ok {
		return "", fmt.Errorf("auto-recorder session %s has no live recording: %w", sessionID, ErrNoAutoRecorder)
	}

	flushPath := filepath.Join(m.tempDir,
		fmt.Sprintf("segment-%s-%d.wav", sessionID, time.Now().UnixMilli()))
	if err := copyFile(rec.OutputFile, flushPath); err != nil {
		return "", fmt.Errorf("failed to snapshot output file for flush: %w", err)
	}
	m.scheduleCleanup(flushPath)

	text, err := m.engine.Transcribe(ctx, flushPath)
	if err != nil {
		return "", fmt.Errorf("flush transcription failed: %w", err)
	}
	if text != "" {
		m.appendSegment(sessionID, Segment{
			ID:         uuid.NewString(),
			FilePath:   flushPath,
			Transcript: text,
		})
	}

	transcript, _ := m.Transcript(sessionID)
	return transcript, nil
}

// ResetAfterFlush clears the auto session's buffer so the next flush
// returns only newly spoken material. Destructive: callers must have
// consumed the previous flush result first.
func (m *Manager) ResetAfterFlush() error {
	sessionID, ok := m.autoSessionID()
	if !ok {
		return ErrNoAutoRecorder
	}
	rec, ok := m.lookup(sessionID)
	if !ok {
		return fmt.Errorf("auto-recorder session %s has no live recording: %w", sessionID, ErrNoAutoRecorder)
	}
	rec.reset()
	m.logger.Debug("auto-recorder buffer reset", "session_id", sessionID)
	return nil
}

// StopAutoRecorder performs a normal stop of the auto session and
// clears the auto state.
func (m *Manager) StopAutoRecorder(ctx context.Context) (string, bool) {
	m.autoMu.Lock()
	sessionID := m.autoSession
	active := m.autoActive
	m.autoSession = ""
	m.autoActive = false
	m.autoMu.Unlock()

	if !active {
		return "", false
	}
	return m.Stop(ctx, sessionID)
}

// AutoTranscript returns the auto session's current buffer.
func (m *Manager) AutoTranscript() (string, bool) {
	sessionID, ok := m.autoSessionID()
	if !ok {
		return "", false
	}
	return m.Transcript(sessionID)
}

func (m *Manager) autoSessionID() (string, bool) {
	m.autoMu.Lock()
	defer m.autoMu.Unlock()
	if !m.autoActive {
		return "", false
	}
	return m.autoSession, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
