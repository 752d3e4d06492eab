package koe

import "time"

// AssistRequest is one voice request.
type AssistRequest struct {
	// Audio is the raw audio payload. Required.
	Audio []byte

	// AgentID routes the request to a registered agent. Unknown or empty ids
	// fall back to the server's default agent.
	AgentID string

	// Voice overrides the agent's default voice.
	Voice string

	// ConversationID threads the reply into an ongoing conversation.
	ConversationID string
}

// AssistResult is the decoded outcome of a successful assist call.
type AssistResult struct {
	// Audio is the synthesized reply.
	Audio []byte

	// AudioContentType is the MIME type of Audio (e.g. "audio/mpeg").
	AudioContentType string

	Transcript string
	Reply      string
	AgentID    string
	Voice      string

	// DurationSeconds is the wall-clock pipeline time billed against the quota.
	DurationSeconds       float64
	QuotaUsedSeconds      float64
	QuotaRemainingSeconds float64

	STTProvider string
	LLMProvider string
	TTSProvider string
}

// AgentQuota reports one agent's remaining budget.
type AgentQuota struct {
	AgentID           string  `json:"agent_id"`
	RemainingSeconds  float64 `json:"remaining_seconds"`
	DailyLimitSeconds float64 `json:"daily_limit_seconds"`
}

// QuotaStatus is the response of QuotaStatus.
type QuotaStatus struct {
	UserID string       `json:"user_id"`
	Agents []AgentQuota `json:"agents"`
}

// Health is the response of Health.
type Health struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	QuotaBackend string `json:"quota_backend"`
}

// envelope mirrors the server's response wrapper.
type envelope[T any] struct {
	Data T            `json:"data"`
	Meta responseMeta `json:"meta"`
}

type responseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type errorEnvelope struct {
	Error struct {
		Code             string   `json:"code"`
		Message          string   `json:"message"`
		RemainingSeconds *float64 `json:"remaining_seconds"`
	} `json:"error"`
}
