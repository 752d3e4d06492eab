// Package tts synthesizes speech from reply text.
//
// Defines a Synthesizer interface and an OpenAI speech implementation.
package tts

import (
	"context"
	"fmt"
)

// Audio is a successful synthesis result.
type Audio struct {
	Data     []byte
	Provider string
	Voice    string
	Format   string // Container format, e.g. "mp3".
}

// Synthesizer converts text to speech in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}

// Error is a structured synthesis failure.
type Error struct {
	Provider string
	Status   int
	Message  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tts: %s returned %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("tts: %s: %s", e.Provider, e.Message)
}

// NoopSynthesizer returns a tiny silent payload. Used in dev mode when no
// provider is configured.
type NoopSynthesizer struct{}

// Synthesize returns placeholder audio.
func (NoopSynthesizer) Synthesize(_ context.Context, _, voice string) (Audio, error) {
	return Audio{
		Data:     []byte("noop-audio"),
		Provider: "noop",
		Voice:    voice,
		Format:   "mp3",
	}, nil
}
