package koe

import (
	"context"
	"net/http"
)

// Transcriber converts audio into text.
// When provided via WithTranscriber, replaces the auto-detected
// OpenAI/Google/noop speech-to-text provider.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (Transcription, error)
}

// Generator produces the agent's reply to a transcript.
// When provided via WithGenerator, replaces the auto-detected OpenAI/noop
// chat provider.
type Generator interface {
	Generate(ctx context.Context, text, systemPrompt, conversationID string, maxTokens int) (Reply, error)
}

// Synthesizer converts reply text into speech.
// When provided via WithSynthesizer, replaces the auto-detected OpenAI/noop
// text-to-speech provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (SpeechAudio, error)
}

// QuotaStore tracks accumulated usage per user, agent, and UTC day.
// When provided via WithQuotaStore, replaces the configured
// memory/redis/postgres backend. Implementations must be safe for concurrent
// use and must not consume quota during CheckAdmission — only Settle writes.
type QuotaStore interface {
	CheckAdmission(ctx context.Context, userID, agentID string, limitSeconds, estimatedSeconds float64) (Admission, error)
	Settle(ctx context.Context, userID, agentID string, actualSeconds float64) error
	Close() error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// The registrar runs after the built-in routes are installed; registering a
// pattern the server already owns panics, per net/http ServeMux semantics.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
