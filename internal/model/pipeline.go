// Package model defines the domain types shared across the pipeline,
// quota store, and HTTP API.
package model

// Stage identifies one of the three sequential processing steps.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageReply         Stage = "reply"
	StageSynthesis     Stage = "synthesis"
)

// PipelineRequest is one inbound assist call. It is owned exclusively by the
// pipeline invocation that receives it and is never shared across requests.
type PipelineRequest struct {
	Audio          []byte
	Filename       string
	UserID         string
	AgentID        string
	VoiceOverride  string // Empty means use the agent's default voice.
	ConversationID string
}

// StageResult captures the provider label and metrics for one completed stage.
// Only the fields relevant to the stage are populated (Confidence for
// transcription, Model/Tokens for reply, AudioBytes for synthesis).
type StageResult struct {
	Stage      Stage   `json:"stage"`
	Provider   string  `json:"provider"`
	DurationMs float64 `json:"duration_ms"`
	Confidence float64 `json:"confidence,omitempty"`
	Model      string  `json:"model,omitempty"`
	Tokens     int     `json:"tokens,omitempty"`
	AudioBytes int     `json:"audio_bytes,omitempty"`
}

// PipelineResult is the outcome of a fully successful pipeline run.
type PipelineResult struct {
	Transcript  string
	Reply       string
	Audio       []byte
	AudioFormat string // e.g. "mp3"

	AgentID string
	Voice   string

	Transcription StageResult
	Generation    StageResult
	Synthesis     StageResult

	// TotalDurationSeconds is wall-clock time from admission acceptance to
	// synthesis completion. This is the settled (billed) value, not the
	// pre-admission estimate.
	TotalDurationSeconds float64

	// Quota state after settlement.
	QuotaUsedSeconds      float64
	QuotaRemainingSeconds float64
}
