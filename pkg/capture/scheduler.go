package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// runScheduler is the per-recording segment loop: every interval it
// carves the trailing window of the growing output file into a segment
// file, transcribes it, and appends the text. The loop owns no state
// of its own and dies only through its context, so Stop can cancel it
// mid-tick without coordination. Tick failures are logged and
// swallowed; one bad probe must not end segmentation for the session.
func (m *Manager) runScheduler(ctx context.Context, rec *Recording) {
	ticker := time.NewTicker(m.cfg.SegmentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.processSegment(ctx, rec)
		}
	}
}

// processSegment handles one scheduler tick.
func (m *Manager) processSegment(ctx context.Context, rec *Recording) {
	totalSec, err := m.prober.Duration(ctx, rec.OutputFile)
	if err != nil {
		m.logger.Debug("duration probe failed, skipping tick",
			"session_id", rec.SessionID, "error", err)
		return
	}

	segSec := m.cfg.SegmentInterval.Seconds()
	startSec := totalSec - segSec
	if startSec < 0 {
		startSec = 0
	}

	segPath := filepath.Join(m.tempDir,
		fmt.Sprintf("segment-%s-%d.wav", rec.SessionID, time.Now().UnixMilli()))

	if err := m.extractor.Extract(ctx, rec.OutputFile, startSec, segSec, segPath); err != nil {
		m.logger.Warn("segment extraction failed, skipping tick",
			"session_id", rec.SessionID, "start_sec", startSec, "error", err)
		return
	}
	m.scheduleCleanup(segPath)

	text, err := m.engine.Transcribe(ctx, segPath)
	if err != nil {
		m.logger.Error("transcription engine unavailable",
			"session_id", rec.SessionID, "error", err)
		return
	}
	if text == "" {
		return
	}

	seg := Segment{
		ID:          uuid.NewString(),
		FilePath:    segPath,
		StartSec:    startSec,
		DurationSec: segSec,
		Transcript:  text,
	}
	m.appendSegment(rec.SessionID, seg)
}

// scheduleCleanup removes an ephemeral segment file after the
// retention window. Retention exists for postmortems, not correctness.
func (m *Manager) scheduleCleanup(path string) {
	retention := m.cfg.SegmentRetention
	if retention <= 0 {
		retention = time.Millisecond
	}
	time.AfterFunc(retention, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Debug("segment cleanup failed", "path", path, "error", err)
		}
	})
}
