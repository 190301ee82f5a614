package capture

import (
	"context"
	"time"
)

// recover reacts to one classified capture failure. failed is the
// recording whose process died; it is nil when the spawn itself failed
// and nothing was registered. There is no retry budget: each distinct
// failure event gets one reaction, and a restart that fails again
// simply produces the next failure event.
func (m *Manager) recover(sessionID string, source Source, failed *Recording, failure *Failure) {
	m.logger.Warn("capture failure",
		"session_id", sessionID,
		"class", failure.Class.String(),
		"exit_code", failure.ExitCode,
		"detail", failure.Detail)

	switch failure.Class {
	case FailureDeviceBusy:
		// Give whoever holds the device time to let go, clear our own
		// half-dead process, then come back.
		m.sleep(m.cfg.BusyStopDelay)
		m.forceStop(failed)
		m.sleep(m.cfg.BusyRestartDelay)
		m.restart(sessionID, source, failure)

	case FailureDeviceMissing:
		// Restarting cannot invent hardware. Surface what the system
		// sees and wait for the operator.
		m.takeRecovery(sessionID, failure)
		ctx, cancel := context.WithTimeout(m.rootCtx, 10*time.Second)
		defer cancel()
		devices, err := m.lister.List(ctx)
		if err != nil {
			m.logger.Error("device re-enumeration failed",
				"session_id", sessionID, "error", err)
			return
		}
		names := make([]string, 0, len(devices))
		for _, d := range devices {
			names = append(names, d.Name)
		}
		m.logger.Error("capture device missing; available devices listed",
			"session_id", sessionID, "devices", names)

	case FailureTransientExit:
		m.sleep(m.cfg.TransientRestartDelay)
		m.restart(sessionID, source, failure)

	case FailureSpawnTransient:
		m.sleep(m.cfg.SpawnRetryDelay)
		m.restart(sessionID, source, failure)

	default:
		m.takeRecovery(sessionID, failure)
		m.logger.Error("unrecoverable capture failure, operator attention required",
			"session_id", sessionID, "detail", failure.Detail, "error", failure.Err)
	}
}

// forceStop tears the failed recording down without grace or final
// extraction, used when its process is already known to be wedged.
// It stands down when the registry no longer maps the session to this
// exact recording: a start issued during the recovery delay owns the
// session now.
func (m *Manager) forceStop(rec *Recording) {
	unlock := m.lockSession(rec.SessionID)
	defer unlock()

	cur, ok := m.lookup(rec.SessionID)
	if !ok || cur != rec {
		return
	}
	rec.beginStop()
	rec.cancel()
	if rec.proc != nil {
		rec.proc.Kill()
	}
	m.remove(rec)
	m.logger.Info("capture force-stopped", "session_id", rec.SessionID)
}

// restart brings a session back with its original source, unless a
// stop, a caller start, or a newer failure superseded this recovery
// while the delay ran. Claim and start happen under the session lock,
// so a start landing now either revoked the claim already or waits
// until the restart is done and then replaces it.
func (m *Manager) restart(sessionID string, source Source, failure *Failure) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	if !m.takeRecovery(sessionID, failure) {
		m.logger.Info("restart cancelled, recovery no longer owns the session",
			"session_id", sessionID)
		return
	}
	if m.rootCtx.Err() != nil {
		return
	}
	if err := m.startLocked(m.rootCtx, sessionID, source); err != nil {
		m.logger.Error("capture restart failed",
			"session_id", sessionID, "source", source, "error", err)
		return
	}
	m.logger.Info("capture restarted", "session_id", sessionID, "source", source)
}

// markRecovering records failure as the claim now pending for the
// session. A later claim replaces an earlier one: the newest failure
// event owns the session's future.
func (m *Manager) markRecovering(sessionID string, failure *Failure) {
	m.recoverMu.Lock()
	m.recovering[sessionID] = failure
	m.recoverMu.Unlock()
}

// takeRecovery consumes the session's claim when this failure event
// still holds it.
func (m *Manager) takeRecovery(sessionID string, failure *Failure) bool {
	m.recoverMu.Lock()
	defer m.recoverMu.Unlock()
	if m.recovering[sessionID] != failure {
		return false
	}
	delete(m.recovering, sessionID)
	return true
}

// cancelRecovery revokes any pending claim on the session.
func (m *Manager) cancelRecovery(sessionID string) {
	m.recoverMu.Lock()
	delete(m.recovering, sessionID)
	m.recoverMu.Unlock()
}

// sleep waits unless the manager is shutting down.
func (m *Manager) sleep(d time.Duration) {
	select {
	case <-m.rootCtx.Done():
	case <-time.After(d):
	}
}
