// Package fake provides a scripted coach for testing.
package fake

import (
	"context"
	"sync"
)

// DefaultResponse is used when no script is provided.
const DefaultResponse = "Lead with the impact, then explain the tradeoff."

// FakeCoach echoes scripted responses and records what it was asked.
type FakeCoach struct {
	mu          sync.Mutex
	response    string
	err         error
	transcripts []string
}

// NewFakeCoach creates a fake coach with a fixed response.
func NewFakeCoach(response string) *FakeCoach {
	if response == "" {
		response = DefaultResponse
	}
	return &FakeCoach{response: response}
}

// FailWith makes every subsequent Respond call return err.
func (f *FakeCoach) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Respond records the transcript and returns the scripted response.
func (f *FakeCoach) Respond(ctx context.Context, transcript string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, transcript)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// Transcripts returns a copy of every transcript seen so far.
func (f *FakeCoach) Transcripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transcripts))
	copy(out, f.transcripts)
	return out
}
