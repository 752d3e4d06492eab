package koe

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	logger          *slog.Logger
	version         string
	quotaStore      QuotaStore
	transcriber     Transcriber
	generator       Generator
	synthesizer     Synthesizer
	agents          []Agent
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (KOE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithQuotaStore replaces the configured memory/redis/postgres quota backend.
// Only the last call wins.
func WithQuotaStore(s QuotaStore) Option {
	return func(o *resolvedOptions) { o.quotaStore = s }
}

// WithTranscriber replaces the auto-detected speech-to-text provider.
func WithTranscriber(t Transcriber) Option {
	return func(o *resolvedOptions) { o.transcriber = t }
}

// WithGenerator replaces the auto-detected reply generation provider.
func WithGenerator(g Generator) Option {
	return func(o *resolvedOptions) { o.generator = g }
}

// WithSynthesizer replaces the auto-detected text-to-speech provider.
func WithSynthesizer(s Synthesizer) Option {
	return func(o *resolvedOptions) { o.synthesizer = s }
}

// WithAgent registers an additional agent, overriding a built-in agent with
// the same id. Ignored when KOE_AGENTS_FILE is set — the file then defines
// the full catalog.
func WithAgent(a Agent) Option {
	return func(o *resolvedOptions) { o.agents = append(o.agents, a) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
