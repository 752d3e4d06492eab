package model

import (
	"fmt"
	"net/http"
	"time"
)

// APIResponse is the standard response envelope for JSON API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code             string   `json:"code"`
	Message          string   `json:"message"`
	RemainingSeconds *float64 `json:"remaining_seconds,omitempty"`
}

// Error codes form a closed taxonomy. Clients branch on these codes, never
// on message text.
const (
	ErrCodeMissingInput     = "MISSING_INPUT"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeNoSpeechDetected = "NO_SPEECH_DETECTED"
	ErrCodeSTTFailed        = "STT_FAILED"
	ErrCodeLLMFailed        = "LLM_FAILED"
	ErrCodeTTSFailed        = "TTS_FAILED"
	ErrCodeInternal         = "INTERNAL"
)

// StatusForCode maps an error code to its default HTTP status.
// Unknown codes map to 500.
func StatusForCode(code string) int {
	switch code {
	case ErrCodeMissingInput, ErrCodeNoSpeechDetected:
		return http.StatusBadRequest
	case ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	case ErrCodeSTTFailed, ErrCodeLLMFailed, ErrCodeTTSFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PipelineError is a classified pipeline failure. Code is always one of the
// taxonomy constants above. RemainingSeconds is set for quota rejections.
type PipelineError struct {
	Code             string
	Message          string
	RemainingSeconds *float64
	Cause            error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *PipelineError) Unwrap() error { return e.Cause }

// HTTPStatus returns the transport status for this failure.
func (e *PipelineError) HTTPStatus() int { return StatusForCode(e.Code) }

// QuotaStatus reports one agent's remaining budget for a user.
type QuotaStatus struct {
	AgentID           string  `json:"agent_id"`
	RemainingSeconds  float64 `json:"remaining_seconds"`
	DailyLimitSeconds float64 `json:"daily_limit_seconds"`
}

// QuotaStatusResponse is the payload for GET /v1/quota/status.
type QuotaStatusResponse struct {
	UserID string        `json:"user_id"`
	Agents []QuotaStatus `json:"agents"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	QuotaBackend string `json:"quota_backend"`
}
