// Package koe is the public API for embedding the Koe voice assistant gateway.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := koe.New(
//	    koe.WithVersion(version),
//	    koe.WithLogger(logger),
//	    koe.WithTranscriber(myTranscriber),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: koe (root) imports
// internal/*, but internal/* never imports koe (root). Public types (Agent,
// Transcription, etc.) are standalone structs with no internal imports;
// conversion adapters live here because this is the only file that sees both
// sides of the boundary.
package koe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/koe/api"
	"github.com/ashita-ai/koe/internal/agents"
	"github.com/ashita-ai/koe/internal/config"
	"github.com/ashita-ai/koe/internal/llm"
	"github.com/ashita-ai/koe/internal/mcp"
	"github.com/ashita-ai/koe/internal/pipeline"
	"github.com/ashita-ai/koe/internal/quota"
	"github.com/ashita-ai/koe/internal/server"
	"github.com/ashita-ai/koe/internal/stt"
	"github.com/ashita-ai/koe/internal/telemetry"
	"github.com/ashita-ai/koe/internal/tts"
	"github.com/ashita-ai/koe/migrations"
)

// App is the Koe server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        quota.Store
	pgStore      *quota.PostgresStore // nil unless the postgres backend is active
	srv          *server.Server
	closers      []func() error
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Koe server. It connects the quota backend, wires the
// pipeline and its providers, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("koe starting", "version", version, "port", cfg.Port, "quota_backend", cfg.QuotaBackend)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}
	fail := func(err error) (*App, error) {
		app.closeAll()
		if app.store != nil {
			_ = app.store.Close()
		}
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Agent registry.
	var registry *agents.Registry
	if cfg.AgentsFile != "" {
		registry, err = agents.LoadFile(cfg.AgentsFile)
		if err != nil {
			return fail(fmt.Errorf("agents: %w", err))
		}
		logger.Info("agents loaded from file", "path", cfg.AgentsFile, "count", len(registry.All()))
	} else {
		extras := make([]agents.Config, len(o.agents))
		for i, a := range o.agents {
			extras[i] = agents.Config(a)
		}
		registry = agents.New(extras...)
	}

	// Quota store — external override takes priority over the configured backend.
	if o.quotaStore != nil {
		app.store = &quotaStoreAdapter{s: o.quotaStore}
		app.cfg.QuotaBackend = "external"
	} else {
		switch cfg.QuotaBackend {
		case "memory":
			app.store = quota.NewMemoryStore()
		case "redis":
			rs, err := quota.NewRedisStore(context.Background(), cfg.RedisURL)
			if err != nil {
				return fail(fmt.Errorf("quota redis: %w", err))
			}
			app.store = rs
		case "postgres":
			ps, err := quota.NewPostgresStore(context.Background(), cfg.DatabaseURL, logger)
			if err != nil {
				return fail(fmt.Errorf("quota postgres: %w", err))
			}
			if err := ps.Migrate(context.Background(), migrations.FS); err != nil {
				_ = ps.Close()
				return fail(fmt.Errorf("quota migrations: %w", err))
			}
			app.store = ps
			app.pgStore = ps
		}
	}

	// Pipeline providers — external overrides take priority over auto-detect.
	var transcriber stt.Transcriber
	if o.transcriber != nil {
		transcriber = &transcriberAdapter{t: o.transcriber}
	} else {
		transcriber, err = app.newTranscriber(cfg, logger)
		if err != nil {
			return fail(fmt.Errorf("stt: %w", err))
		}
	}

	var generator llm.Generator
	if o.generator != nil {
		generator = &generatorAdapter{g: o.generator}
	} else {
		generator = newGenerator(cfg, logger)
	}

	var synthesizer tts.Synthesizer
	if o.synthesizer != nil {
		synthesizer = &synthesizerAdapter{s: o.synthesizer}
	} else {
		synthesizer = newSynthesizer(cfg, logger)
	}

	// Pipeline.
	pipe := pipeline.New(pipeline.Deps{
		Registry:     registry,
		Store:        app.store,
		Transcriber:  transcriber,
		Generator:    generator,
		Synthesizer:  synthesizer,
		Logger:       logger,
		StageTimeout: cfg.StageTimeout,
	})

	// MCP server.
	mcpSrv := mcp.New(registry, app.store, logger, version)

	// Adapt route registrars and middlewares from the public types to the
	// internal server signatures.
	var extraRoutes []func(*http.ServeMux)
	for _, fn := range o.routeRegistrars {
		fn := fn
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux) { fn(mux) })
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	// HTTP server.
	app.srv = server.New(server.ServerConfig{
		Pipeline:            pipe,
		Registry:            registry,
		Store:               app.store,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		QuotaBackend:        app.cfg.QuotaBackend,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	return app, nil
}

// Run starts the HTTP server and background maintenance, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.pgStore != nil {
		go a.quotaCleanupLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, closes providers and the quota
// store, and flushes the OTEL exporter.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("koe shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	a.closeAll()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("quota store close error", "error", err)
		}
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("koe stopped")
	return nil
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("provider close error", "error", err)
		}
	}
	a.closers = nil
}

// quotaCleanupLoop periodically deletes quota rows for past days. Only runs
// with the postgres backend; memory evicts stale entries itself and redis
// keys expire via TTL.
func (a *App) quotaCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := a.pgStore.Cleanup(opCtx); err != nil {
				a.logger.Warn("quota cleanup failed", "error", err)
			}
			cancel()
		}
	}
}

// ── Provider construction (auto-detect) ────────────────────────────────────────

func (a *App) newTranscriber(cfg config.Config, logger *slog.Logger) (stt.Transcriber, error) {
	switch cfg.STTProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY required when KOE_STT_PROVIDER=openai")
		}
		logger.Info("stt provider: openai", "model", cfg.STTModel)
		return stt.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.STTModel, cfg.OpenAIBaseURL), nil
	case "google":
		gp, err := stt.NewGoogleProvider(context.Background(), cfg.GoogleLanguage)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gp.Close)
		logger.Info("stt provider: google", "language", cfg.GoogleLanguage)
		return gp, nil
	case "noop":
		logger.Info("stt provider: noop")
		return stt.NoopTranscriber{}, nil
	default: // auto
		if cfg.OpenAIAPIKey != "" {
			logger.Info("stt provider: openai (auto-detected)", "model", cfg.STTModel)
			return stt.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.STTModel, cfg.OpenAIBaseURL), nil
		}
		logger.Warn("no stt provider available, using noop")
		return stt.NoopTranscriber{}, nil
	}
}

func newGenerator(cfg config.Config, logger *slog.Logger) llm.Generator {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KOE_LLM_PROVIDER=openai")
			return llm.NoopGenerator{}
		}
		logger.Info("llm provider: openai", "model", cfg.LLMModel)
		return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
	case "noop":
		logger.Info("llm provider: noop")
		return llm.NoopGenerator{}
	default: // auto
		if cfg.OpenAIAPIKey != "" {
			logger.Info("llm provider: openai (auto-detected)", "model", cfg.LLMModel)
			return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
		}
		logger.Warn("no llm provider available, using noop")
		return llm.NoopGenerator{}
	}
}

func newSynthesizer(cfg config.Config, logger *slog.Logger) tts.Synthesizer {
	switch cfg.TTSProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KOE_TTS_PROVIDER=openai")
			return tts.NoopSynthesizer{}
		}
		logger.Info("tts provider: openai", "model", cfg.TTSModel)
		return tts.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.TTSModel, cfg.OpenAIBaseURL)
	case "noop":
		logger.Info("tts provider: noop")
		return tts.NoopSynthesizer{}
	default: // auto
		if cfg.OpenAIAPIKey != "" {
			logger.Info("tts provider: openai (auto-detected)", "model", cfg.TTSModel)
			return tts.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.TTSModel, cfg.OpenAIBaseURL)
		}
		logger.Warn("no tts provider available, using noop")
		return tts.NoopSynthesizer{}
	}
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// quotaStoreAdapter wraps a public koe.QuotaStore to satisfy quota.Store.
type quotaStoreAdapter struct {
	s QuotaStore
}

func (a *quotaStoreAdapter) CheckAdmission(ctx context.Context, userID, agentID string, limitSeconds, estimatedSeconds float64) (quota.Admission, error) {
	adm, err := a.s.CheckAdmission(ctx, userID, agentID, limitSeconds, estimatedSeconds)
	if err != nil {
		return quota.Admission{}, err
	}
	return quota.Admission{
		Allowed:          adm.Allowed,
		RemainingSeconds: adm.RemainingSeconds,
		LimitSeconds:     adm.LimitSeconds,
	}, nil
}

func (a *quotaStoreAdapter) Settle(ctx context.Context, userID, agentID string, actualSeconds float64) error {
	return a.s.Settle(ctx, userID, agentID, actualSeconds)
}

func (a *quotaStoreAdapter) Close() error { return a.s.Close() }

// transcriberAdapter wraps a public koe.Transcriber to satisfy stt.Transcriber.
type transcriberAdapter struct {
	t Transcriber
}

func (a *transcriberAdapter) Transcribe(ctx context.Context, audio []byte, filename string) (stt.Transcription, error) {
	tr, err := a.t.Transcribe(ctx, audio, filename)
	if err != nil {
		return stt.Transcription{}, err
	}
	return stt.Transcription{
		Text:       tr.Text,
		Provider:   tr.Provider,
		Confidence: tr.Confidence,
		DurationMs: tr.DurationMs,
	}, nil
}

// generatorAdapter wraps a public koe.Generator to satisfy llm.Generator.
type generatorAdapter struct {
	g Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, prompt llm.Prompt) (llm.Reply, error) {
	reply, err := a.g.Generate(ctx, prompt.Text, prompt.SystemPrompt, prompt.ConversationID, prompt.MaxTokens)
	if err != nil {
		return llm.Reply{}, err
	}
	return llm.Reply{
		Text:     reply.Text,
		Provider: reply.Provider,
		Model:    reply.Model,
		Tokens:   reply.Tokens,
	}, nil
}

// synthesizerAdapter wraps a public koe.Synthesizer to satisfy tts.Synthesizer.
type synthesizerAdapter struct {
	s Synthesizer
}

func (a *synthesizerAdapter) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	audio, err := a.s.Synthesize(ctx, text, voice)
	if err != nil {
		return tts.Audio{}, err
	}
	return tts.Audio{
		Data:     audio.Data,
		Provider: audio.Provider,
		Voice:    audio.Voice,
		Format:   audio.Format,
	}, nil
}
