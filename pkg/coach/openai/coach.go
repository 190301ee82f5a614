// Package openai adapts an OpenAI-compatible chat endpoint as a coach.
package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel balances answer quality against the latency budget of a
// live interview.
const DefaultModel = openai.GPT4oMini

const systemPrompt = "You are an interview copilot. The user sends a raw " +
	"transcript fragment of an ongoing job interview. Reply with a short, " +
	"direct suggestion for how the candidate should answer the most recent " +
	"question. Plain text only."

// GPTCoach implements the Coach interface using OpenAI chat models.
type GPTCoach struct {
	client *openai.Client
	model  string
}

// NewGPTCoach creates a coach backed by an OpenAI-compatible API.
func NewGPTCoach(apiKey, model string) *GPTCoach {
	if model == "" {
		model = DefaultModel
	}
	return &GPTCoach{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Respond sends the transcript and returns the model's suggestion.
func (g *GPTCoach) Respond(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("empty transcript")
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no chat completion choices returned")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
