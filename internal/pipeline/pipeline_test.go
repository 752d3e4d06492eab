package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/koe/internal/agents"
	"github.com/ashita-ai/koe/internal/llm"
	"github.com/ashita-ai/koe/internal/model"
	"github.com/ashita-ai/koe/internal/pipeline"
	"github.com/ashita-ai/koe/internal/quota"
	"github.com/ashita-ai/koe/internal/stt"
	"github.com/ashita-ai/koe/internal/testutil"
	"github.com/ashita-ai/koe/internal/tts"
)

// fakeStore records admission and settlement calls.
type fakeStore struct {
	mu          sync.Mutex
	usedSeconds float64

	checkCalls   int
	settleCalls  int
	settledTotal float64
	lastLimit    float64
	estimates    []float64 // Every estimate passed to CheckAdmission, in order.
	settleErr    error
	settleBlock  bool // Block Settle until its context expires.
}

func (f *fakeStore) CheckAdmission(_ context.Context, _, _ string, limit, estimate float64) (quota.Admission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	f.lastLimit = limit
	f.estimates = append(f.estimates, estimate)
	remaining := limit - f.usedSeconds
	a := quota.Admission{Allowed: remaining >= estimate, RemainingSeconds: remaining, LimitSeconds: limit}
	if a.RemainingSeconds < 0 {
		a.RemainingSeconds = 0
	}
	return a, nil
}

func (f *fakeStore) Settle(ctx context.Context, _, _ string, actual float64) error {
	if f.settleBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		return f.settleErr
	}
	f.settleCalls++
	f.settledTotal += actual
	f.usedSeconds += actual
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeTranscriber returns a fixed transcript, or blocks until the context
// expires when delay is set.
type fakeTranscriber struct {
	text  string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ []byte, _ string) (stt.Transcription, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return stt.Transcription{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return stt.Transcription{}, f.err
	}
	return stt.Transcription{Text: f.text, Provider: "fake-stt", Confidence: 0.92}, nil
}

type fakeGenerator struct {
	err        error
	calls      int
	lastPrompt llm.Prompt
	block      bool
}

func (f *fakeGenerator) Generate(ctx context.Context, p llm.Prompt) (llm.Reply, error) {
	f.calls++
	f.lastPrompt = p
	if f.block {
		<-ctx.Done()
		return llm.Reply{}, ctx.Err()
	}
	if f.err != nil {
		return llm.Reply{}, f.err
	}
	return llm.Reply{Text: "reply to: " + p.Text, Provider: "fake-llm", Model: "fake-1", Tokens: 12}, nil
}

type fakeSynthesizer struct {
	err       error
	calls     int
	lastVoice string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, voice string) (tts.Audio, error) {
	f.calls++
	f.lastVoice = voice
	if f.err != nil {
		return tts.Audio{}, f.err
	}
	return tts.Audio{Data: []byte("mp3:" + text), Provider: "fake-tts", Voice: voice, Format: "mp3"}, nil
}

type fixture struct {
	svc   *pipeline.Service
	store *fakeStore
	stt   *fakeTranscriber
	llm   *fakeGenerator
	tts   *fakeSynthesizer
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		store: &fakeStore{},
		stt:   &fakeTranscriber{text: "turn on the lights"},
		llm:   &fakeGenerator{},
		tts:   &fakeSynthesizer{},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.svc = pipeline.New(pipeline.Deps{
		Registry:     agents.New(),
		Store:        f.store,
		Transcriber:  f.stt,
		Generator:    f.llm,
		Synthesizer:  f.tts,
		Logger:       testutil.TestLogger(),
		StageTimeout: 200 * time.Millisecond,
	})
	return f
}

func req() model.PipelineRequest {
	return model.PipelineRequest{
		Audio:   []byte("fake audio bytes"),
		UserID:  "u1",
		AgentID: "general",
	}
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Run(context.Background(), req())
	require.NoError(t, err)

	assert.Equal(t, "turn on the lights", result.Transcript)
	assert.NotEmpty(t, result.Reply)
	assert.Equal(t, []byte("mp3:"+result.Reply), result.Audio)
	assert.Equal(t, "general", result.AgentID)

	// All three provider labels are populated.
	assert.Equal(t, "fake-stt", result.Transcription.Provider)
	assert.Equal(t, "fake-llm", result.Generation.Provider)
	assert.Equal(t, "fake-tts", result.Synthesis.Provider)

	assert.Equal(t, 1, f.store.settleCalls)
}

func TestMissingInput(t *testing.T) {
	f := newFixture(t)

	r := req()
	r.Audio = nil
	_, err := f.svc.Run(context.Background(), r)

	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ErrCodeMissingInput, pe.Code)
	assert.Equal(t, 400, pe.HTTPStatus())

	// Fail-fast: not even an admission check.
	assert.Equal(t, 0, f.store.checkCalls)
	assert.Equal(t, 0, f.stt.calls)
}

func TestQuotaRejection(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.store.usedSeconds = 597 })

	// Small payload: the estimate floors at 5s against 3s remaining.
	_, err := f.svc.Run(context.Background(), req())

	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ErrCodeQuotaExceeded, pe.Code)
	assert.Equal(t, 429, pe.HTTPStatus())
	require.NotNil(t, pe.RemainingSeconds)
	assert.Equal(t, float64(3), *pe.RemainingSeconds)

	// Rejection means zero stage invocations and zero settlement.
	assert.Equal(t, 0, f.stt.calls)
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, 0, f.tts.calls)
	assert.Equal(t, 0, f.store.settleCalls)
}

func TestNoSpeechDetected(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.stt.text = "   \n\t " })

	_, err := f.svc.Run(context.Background(), req())

	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ErrCodeNoSpeechDetected, pe.Code)
	assert.Equal(t, 400, pe.HTTPStatus())

	// Later stages never run, nothing is billed.
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, 0, f.tts.calls)
	assert.Equal(t, 0, f.store.settleCalls)
}

func TestStageFailuresClassified(t *testing.T) {
	cases := []struct {
		name string
		opt  func(*fixture)
		code string
	}{
		{"stt", func(f *fixture) { f.stt.err = &stt.Error{Provider: "fake-stt", Status: 500, Message: "boom"} }, model.ErrCodeSTTFailed},
		{"llm", func(f *fixture) { f.llm.err = &llm.Error{Provider: "fake-llm", Status: 500, Message: "boom"} }, model.ErrCodeLLMFailed},
		{"tts", func(f *fixture) { f.tts.err = &tts.Error{Provider: "fake-tts", Status: 500, Message: "boom"} }, model.ErrCodeTTSFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.opt)

			_, err := f.svc.Run(context.Background(), req())

			var pe *model.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.code, pe.Code)
			assert.Equal(t, 502, pe.HTTPStatus())
			assert.Equal(t, 0, f.store.settleCalls, "failed runs are never settled")
		})
	}
}

func TestStageTimeoutMapsToStageKind(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.stt.delay = 5 * time.Second })

	start := time.Now()
	_, err := f.svc.Run(context.Background(), req())
	elapsed := time.Since(start)

	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ErrCodeSTTFailed, pe.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 2*time.Second, "stage timeout bounds the call")
	assert.Equal(t, 0, f.store.settleCalls)
}

func TestCallerCancellationNeverSettles(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.llm.block = true })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.svc.Run(ctx, req())

	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ErrCodeLLMFailed, pe.Code)
	assert.Equal(t, 0, f.store.settleCalls, "abandoned work is never billed")
	assert.Equal(t, 0, f.tts.calls)
}

func TestSettlementBillsWallClockNotEstimate(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Run(context.Background(), req())
	require.NoError(t, err)

	// The pre-admission estimate floors at 5s; actual processing with fakes
	// is near-instant. The settled value must be the wall-clock figure.
	require.NotEmpty(t, f.store.estimates)
	assert.Equal(t, float64(5), f.store.estimates[0])
	assert.Equal(t, result.TotalDurationSeconds, f.store.settledTotal)
	assert.Less(t, f.store.settledTotal, 1.0)
	assert.GreaterOrEqual(t, f.store.settledTotal, 0.0)

	// The post-settlement remaining-quota read is a pure status query.
	require.Len(t, f.store.estimates, 2)
	assert.Equal(t, float64(0), f.store.estimates[1])
}

func TestUnknownAgentFallsBackToGeneral(t *testing.T) {
	f := newFixture(t)

	r := req()
	r.AgentID = "does-not-exist"
	result, err := f.svc.Run(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, "general", result.AgentID)
	assert.Equal(t, "alloy", f.tts.lastVoice, "general agent's default voice")
	assert.Equal(t, float64(600), f.store.lastLimit, "general agent's ceiling")
	assert.Equal(t, 256, f.llm.lastPrompt.MaxTokens)
}

func TestVoiceOverride(t *testing.T) {
	f := newFixture(t)

	r := req()
	r.VoiceOverride = "nova"
	result, err := f.svc.Run(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, "nova", f.tts.lastVoice)
	assert.Equal(t, "nova", result.Voice)
}

func TestAgentPromptReachesGenerator(t *testing.T) {
	f := newFixture(t)

	r := req()
	r.AgentID = "specialist"
	r.ConversationID = "conv-7"
	_, err := f.svc.Run(context.Background(), r)
	require.NoError(t, err)

	assert.Contains(t, f.llm.lastPrompt.SystemPrompt, "specialist")
	assert.Equal(t, 512, f.llm.lastPrompt.MaxTokens)
	assert.Equal(t, "conv-7", f.llm.lastPrompt.ConversationID)
	assert.Equal(t, float64(900), f.store.lastLimit)
}

func TestHungSettlementDoesNotStrandWorker(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.store.settleBlock = true })

	start := time.Now()
	result, err := f.svc.Run(context.Background(), req())
	require.NoError(t, err, "completed work is returned even when the billing write hangs")

	assert.NotEmpty(t, result.Reply)
	assert.Less(t, time.Since(start), 2*time.Second, "settlement is bounded by the stage timeout")
}

func TestSettlementFailureStillReturnsResult(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.store.settleErr = errors.New("store down") })

	result, err := f.svc.Run(context.Background(), req())
	require.NoError(t, err, "completed work is not discarded over a billing write")
	assert.NotEmpty(t, result.Reply)
}

func TestLargePayloadEstimate(t *testing.T) {
	// 2 MiB payload estimates at 20s, which fits a fresh 600s budget.
	f := newFixture(t)

	r := req()
	r.Audio = make([]byte, 2<<20)
	_, err := f.svc.Run(context.Background(), r)
	require.NoError(t, err)
	require.NotEmpty(t, f.store.estimates)
	assert.InDelta(t, 20, f.store.estimates[0], 1e-9)
}
