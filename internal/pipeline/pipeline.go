// Package pipeline orchestrates the quota-gated assist flow: admission,
// transcription, reply generation, speech synthesis, and settlement.
//
// Stages run strictly in order because each stage's output is the next
// stage's input. The quota store is consulted before any stage runs
// (fail-fast: no partial work for a request that cannot be billed) and
// settled only after the final stage completes, with actual wall-clock
// seconds rather than the pre-admission estimate.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/koe/internal/agents"
	"github.com/ashita-ai/koe/internal/llm"
	"github.com/ashita-ai/koe/internal/model"
	"github.com/ashita-ai/koe/internal/quota"
	"github.com/ashita-ai/koe/internal/stt"
	"github.com/ashita-ai/koe/internal/telemetry"
	"github.com/ashita-ai/koe/internal/tts"
)

var tracer = otel.Tracer("koe/pipeline")

// DefaultStageTimeout bounds each collaborator call when no timeout is
// configured.
const DefaultStageTimeout = 30 * time.Second

// Deps holds all dependencies for constructing a Service.
type Deps struct {
	Registry     *agents.Registry
	Store        quota.Store
	Transcriber  stt.Transcriber
	Generator    llm.Generator
	Synthesizer  tts.Synthesizer
	Logger       *slog.Logger
	StageTimeout time.Duration
}

// Service runs the assist pipeline. Safe for concurrent use; each Run owns
// its request exclusively and the only shared state is the quota store.
type Service struct {
	registry     *agents.Registry
	store        quota.Store
	transcriber  stt.Transcriber
	generator    llm.Generator
	synthesizer  tts.Synthesizer
	logger       *slog.Logger
	stageTimeout time.Duration

	stageDuration metric.Float64Histogram
	runCounter    metric.Int64Counter
}

// New creates a pipeline Service.
func New(d Deps) *Service {
	if d.StageTimeout <= 0 {
		d.StageTimeout = DefaultStageTimeout
	}
	meter := telemetry.Meter("koe/pipeline")
	stageDur, _ := meter.Float64Histogram("koe.pipeline.stage.duration",
		metric.WithDescription("Per-stage processing time (ms)"),
		metric.WithUnit("ms"),
	)
	runs, _ := meter.Int64Counter("koe.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"),
	)
	return &Service{
		registry:      d.Registry,
		store:         d.Store,
		transcriber:   d.Transcriber,
		generator:     d.Generator,
		synthesizer:   d.Synthesizer,
		logger:        d.Logger,
		stageTimeout:  d.StageTimeout,
		stageDuration: stageDur,
		runCounter:    runs,
	}
}

// estimateCostSeconds derives the admission estimate from payload size.
// A deliberately crude proxy for audio duration: it only gates admission
// and is never billed.
func estimateCostSeconds(sizeBytes int) float64 {
	sizeMB := float64(sizeBytes) / (1 << 20)
	return math.Max(5, sizeMB*10)
}

// Run executes one pipeline invocation. On failure the returned error is
// always a *model.PipelineError carrying a taxonomy code.
func (s *Service) Run(ctx context.Context, req model.PipelineRequest) (*model.PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	result, err := s.run(ctx, req)
	if err != nil {
		classified := Classify(err)
		span.RecordError(classified)
		s.count(ctx, classified.Code)
		s.logger.Warn("pipeline: run failed",
			"user_id", req.UserID,
			"agent_id", req.AgentID,
			"code", classified.Code,
			"error", classified.Error(),
		)
		return nil, classified
	}

	s.count(ctx, "ok")
	span.SetAttributes(
		attribute.String("koe.agent_id", result.AgentID),
		attribute.Float64("koe.duration_seconds", result.TotalDurationSeconds),
	)
	return result, nil
}

func (s *Service) run(ctx context.Context, req model.PipelineRequest) (*model.PipelineResult, error) {
	if len(req.Audio) == 0 {
		return nil, &model.PipelineError{Code: model.ErrCodeMissingInput, Message: "no audio supplied"}
	}

	agent := s.registry.Resolve(req.AgentID)
	voice := req.VoiceOverride
	if voice == "" {
		voice = agent.DefaultVoice
	}

	// Admission. The estimate only gates; true usage is billed at settlement.
	estimate := estimateCostSeconds(len(req.Audio))
	adm, err := s.store.CheckAdmission(ctx, req.UserID, agent.ID, agent.DailyQuotaSeconds, estimate)
	if err != nil {
		return nil, &model.PipelineError{Code: model.ErrCodeInternal, Message: "quota check failed", Cause: err}
	}
	if !adm.Allowed {
		remaining := adm.RemainingSeconds
		return nil, &model.PipelineError{
			Code:             model.ErrCodeQuotaExceeded,
			Message:          "daily quota exceeded for this agent",
			RemainingSeconds: &remaining,
		}
	}

	started := time.Now()

	// Stage 1: transcription.
	var trans stt.Transcription
	err = s.stage(ctx, model.StageTranscription, func(stageCtx context.Context) error {
		var serr error
		trans, serr = s.transcriber.Transcribe(stageCtx, req.Audio, req.Filename)
		return serr
	})
	if err != nil {
		return nil, stageError(model.StageTranscription, err)
	}
	if strings.TrimSpace(trans.Text) == "" {
		// Technically successful transcription with no usable text is a
		// domain failure, not a transport error.
		return nil, &model.PipelineError{Code: model.ErrCodeNoSpeechDetected, Message: "no speech detected in audio"}
	}
	transDone := time.Now()

	// Stage 2: reply generation.
	var reply llm.Reply
	err = s.stage(ctx, model.StageReply, func(stageCtx context.Context) error {
		var serr error
		reply, serr = s.generator.Generate(stageCtx, llm.Prompt{
			Text:           trans.Text,
			SystemPrompt:   agent.SystemPrompt,
			MaxTokens:      agent.MaxReplyTokens,
			ConversationID: req.ConversationID,
		})
		return serr
	})
	if err != nil {
		return nil, stageError(model.StageReply, err)
	}
	replyDone := time.Now()

	// Stage 3: speech synthesis.
	var audio tts.Audio
	err = s.stage(ctx, model.StageSynthesis, func(stageCtx context.Context) error {
		var serr error
		audio, serr = s.synthesizer.Synthesize(stageCtx, reply.Text, voice)
		return serr
	})
	if err != nil {
		return nil, stageError(model.StageSynthesis, err)
	}
	synthDone := time.Now()

	// Settlement: bill actual wall-clock time from admission acceptance to
	// synthesis completion. The work is complete at this point, so the
	// settlement write is shielded from caller cancellation but still bounded:
	// a hung store must not strand the worker.
	total := synthDone.Sub(started).Seconds()
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), s.stageTimeout)
	defer settleCancel()
	if err := s.store.Settle(settleCtx, req.UserID, agent.ID, total); err != nil {
		// The reply was produced; losing one settlement write is preferable
		// to discarding completed work. Surfaced in logs and metrics.
		s.logger.Error("pipeline: settlement failed", "user_id", req.UserID, "agent_id", agent.ID, "error", err)
		s.count(ctx, "settle_error")
	}

	remaining := adm.RemainingSeconds - total
	if status, err := s.store.CheckAdmission(settleCtx, req.UserID, agent.ID, agent.DailyQuotaSeconds, 0); err == nil {
		remaining = status.RemainingSeconds
	}
	if remaining < 0 {
		remaining = 0
	}

	return &model.PipelineResult{
		Transcript:  trans.Text,
		Reply:       reply.Text,
		Audio:       audio.Data,
		AudioFormat: audio.Format,
		AgentID:     agent.ID,
		Voice:       audio.Voice,
		Transcription: model.StageResult{
			Stage:      model.StageTranscription,
			Provider:   trans.Provider,
			DurationMs: float64(transDone.Sub(started).Milliseconds()),
			Confidence: trans.Confidence,
		},
		Generation: model.StageResult{
			Stage:      model.StageReply,
			Provider:   reply.Provider,
			DurationMs: float64(replyDone.Sub(transDone).Milliseconds()),
			Model:      reply.Model,
			Tokens:     reply.Tokens,
		},
		Synthesis: model.StageResult{
			Stage:      model.StageSynthesis,
			Provider:   audio.Provider,
			DurationMs: float64(synthDone.Sub(replyDone).Milliseconds()),
			AudioBytes: len(audio.Data),
		},
		TotalDurationSeconds:  total,
		QuotaUsedSeconds:      total,
		QuotaRemainingSeconds: remaining,
	}, nil
}

// stage runs one collaborator call under the per-stage timeout with a span
// and a duration metric. The timeout makes a hung collaborator a stage
// failure rather than a stuck worker.
func (s *Service) stage(ctx context.Context, name model.Stage, fn func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	stageCtx, span := tracer.Start(stageCtx, "pipeline."+string(name))
	defer span.End()

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
	}
	if s.stageDuration != nil {
		s.stageDuration.Record(ctx, float64(elapsed.Milliseconds()),
			metric.WithAttributes(
				attribute.String("koe.stage", string(name)),
				attribute.String("koe.outcome", outcome),
			))
	}
	return err
}

func (s *Service) count(ctx context.Context, outcome string) {
	if s.runCounter != nil {
		s.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("koe.outcome", outcome)))
	}
}
