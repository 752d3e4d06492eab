// Package stt provides speech-to-text transcription for the pipeline.
//
// Defines a Transcriber interface with OpenAI (Whisper) and Google Cloud
// Speech implementations. The interface allows swapping providers without
// changing the pipeline.
package stt

import (
	"context"
	"fmt"
)

// Transcription is a successful transcription result.
type Transcription struct {
	Text       string
	Provider   string
	Confidence float64 // 0 when the provider does not report one.
	DurationMs float64 // Audio duration as reported by the provider.
}

// Transcriber converts raw audio bytes to text.
type Transcriber interface {
	// Transcribe converts audio to text. The filename hints at the container
	// format (e.g. "clip.ogg"); providers that don't need it ignore it.
	Transcribe(ctx context.Context, audio []byte, filename string) (Transcription, error)
}

// Error is a structured transcription failure. The pipeline classifies on
// the failing stage plus these fields, never on message text.
type Error struct {
	Provider string
	Status   int // Upstream HTTP/RPC status, 0 for transport-level faults.
	Message  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stt: %s returned %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("stt: %s: %s", e.Provider, e.Message)
}

// NoopTranscriber returns a fixed transcript. Used in dev mode when no
// provider is configured.
type NoopTranscriber struct{}

// Transcribe returns a canned transcript.
func (NoopTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (Transcription, error) {
	if len(audio) == 0 {
		return Transcription{Provider: "noop"}, nil
	}
	return Transcription{
		Text:     "noop transcript",
		Provider: "noop",
	}, nil
}
