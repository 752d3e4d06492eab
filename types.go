package koe

// Agent is the public representation of a registered voice agent.
// It is a curated view of the internal registry entry for use in extension
// interfaces. No internal package imports — safe to use from outside the module.
type Agent struct {
	ID                string
	SystemPrompt      string
	DefaultVoice      string
	MaxReplyTokens    int
	DailyQuotaSeconds float64
}

// Transcription is the public result of a speech-to-text call.
type Transcription struct {
	Text       string
	Provider   string
	Confidence float64
	DurationMs float64
}

// Reply is the public result of a reply generation call.
type Reply struct {
	Text     string
	Provider string
	Model    string
	Tokens   int
}

// SpeechAudio is the public result of a text-to-speech call.
type SpeechAudio struct {
	Data     []byte
	Provider string
	Voice    string
	Format   string
}

// Admission is the public result of a quota admission check.
type Admission struct {
	Allowed          bool
	RemainingSeconds float64
	LimitSeconds     float64
}
