// Package koe provides a Go client for the Koe voice assistant gateway API.
package koe

import (
	"errors"
	"fmt"
)

// Error represents an error from the Koe API with the HTTP status code and
// the server's taxonomy code and message.
type Error struct {
	StatusCode       int
	Code             string
	Message          string
	RemainingSeconds *float64 // Set for QUOTA_EXCEEDED errors.
}

func (e *Error) Error() string {
	return fmt.Sprintf("koe: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsQuotaExceeded returns true if the error is a daily quota rejection.
func IsQuotaExceeded(err error) bool {
	return hasCode(err, "QUOTA_EXCEEDED")
}

// IsMissingInput returns true if the request carried no audio.
func IsMissingInput(err error) bool {
	return hasCode(err, "MISSING_INPUT")
}

// IsNoSpeechDetected returns true if the audio contained no recognizable speech.
func IsNoSpeechDetected(err error) bool {
	return hasCode(err, "NO_SPEECH_DETECTED")
}

// IsUpstreamFailure returns true if a provider stage failed (STT, LLM, or TTS).
func IsUpstreamFailure(err error) bool {
	return hasCode(err, "STT_FAILED") || hasCode(err, "LLM_FAILED") || hasCode(err, "TTS_FAILED")
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
