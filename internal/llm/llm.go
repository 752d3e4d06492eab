// Package llm generates conversational replies from transcribed speech.
//
// Defines a Generator interface and an OpenAI chat-completions
// implementation. Conversation continuity is delegated to the provider via
// the conversation id; the gateway itself stores no history.
package llm

import (
	"context"
	"fmt"
)

// Prompt is one reply-generation request.
type Prompt struct {
	Text           string // The user's transcribed speech.
	SystemPrompt   string // The agent's instructions.
	MaxTokens      int
	ConversationID string // Optional continuity hint.
}

// Reply is a successful generation result.
type Reply struct {
	Text     string
	Provider string
	Model    string
	Tokens   int // Total tokens consumed, 0 when unreported.
}

// Generator produces a conversational reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (Reply, error)
}

// Error is a structured generation failure.
type Error struct {
	Provider string
	Status   int
	Message  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: %s returned %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("llm: %s: %s", e.Provider, e.Message)
}

// NoopGenerator echoes the prompt. Used in dev mode when no provider is
// configured.
type NoopGenerator struct{}

// Generate returns the transcribed text prefixed as an echo.
func (NoopGenerator) Generate(_ context.Context, prompt Prompt) (Reply, error) {
	return Reply{
		Text:     "You said: " + prompt.Text,
		Provider: "noop",
		Model:    "echo",
	}, nil
}
