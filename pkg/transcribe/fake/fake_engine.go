// Package fake provides a scripted transcription engine for tests.
package fake

import (
	"context"
	"sync"
)

// DefaultTranscript is returned when no script is provided.
const DefaultTranscript = "this is a fake transcript"

// FakeEngine returns scripted transcripts in call order. Once the
// script is exhausted it keeps returning the last entry, so tests do
// not need to predict exact tick counts.
type FakeEngine struct {
	mu      sync.Mutex
	script  []string
	next    int
	err     error
	paths   []string
	BlockCh chan struct{} // when non-nil, Transcribe waits for a receive before returning
}

// NewFakeEngine creates a fake engine with the given scripted results.
func NewFakeEngine(script ...string) *FakeEngine {
	if len(script) == 0 {
		script = []string{DefaultTranscript}
	}
	return &FakeEngine{script: script}
}

// FailWith makes every subsequent Transcribe call return err.
func (f *FakeEngine) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Transcribe records the requested path and plays back the script.
func (f *FakeEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if f.BlockCh != nil {
		select {
		case <-f.BlockCh:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.paths = append(f.paths, audioPath)
	if f.err != nil {
		return "", f.err
	}

	text := f.script[f.next]
	if f.next < len(f.script)-1 {
		f.next++
	}
	return text, nil
}

// Paths returns a copy of every audio path transcribed so far.
func (f *FakeEngine) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.paths))
	copy(out, f.paths)
	return out
}

// Calls returns how many times Transcribe ran.
func (f *FakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}
