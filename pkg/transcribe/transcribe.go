// Package transcribe converts audio segment files into plain text by
// shelling out to a whisper CLI binary. Engines are synchronous: one
// call per segment file, result returned after the external process
// exits. Silence, unreadable audio and engine crashes all yield an
// empty string; the only error an engine reports is failing to spawn
// the binary at all.
package transcribe

import "context"

// Engine turns one audio file into cleaned transcript text.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
