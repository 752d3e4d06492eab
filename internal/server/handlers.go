package server

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/koe/internal/agents"
	"github.com/ashita-ai/koe/internal/model"
	"github.com/ashita-ai/koe/internal/pipeline"
	"github.com/ashita-ai/koe/internal/quota"
)

// DefaultUserID is used when a request carries no X-Koe-User header.
const DefaultUserID = "anonymous"

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	pipeline            *pipeline.Service
	registry            *agents.Registry
	store               quota.Store
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	quotaBackend        string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// OpenAPISpec is optional (nil disables GET /openapi.yaml).
type HandlersDeps struct {
	Pipeline            *pipeline.Service
	Registry            *agents.Registry
	Store               quota.Store
	Logger              *slog.Logger
	Version             string
	QuotaBackend        string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		pipeline:            d.Pipeline,
		registry:            d.Registry,
		store:               d.Store,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		quotaBackend:        d.QuotaBackend,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAssist handles POST /v1/assist.
//
// Accepts either multipart/form-data with an "audio" file part (plus optional
// agent_id, voice, and conversation_id form fields) or a raw audio body with
// the same options as query parameters. The caller is identified by the
// X-Koe-User header; absent means the shared anonymous user.
//
// On success the response body is the synthesized audio and the transcript,
// reply text, and quota accounting travel in X-Koe-* headers. Free-text
// header values are URL-escaped because HTTP headers cannot carry arbitrary
// bytes.
func (h *Handlers) HandleAssist(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseAssistRequest(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeMissingInput,
				"audio exceeds the maximum request size")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeMissingInput, err.Error())
		return
	}

	result, err := h.pipeline.Run(r.Context(), req)
	if err != nil {
		var perr *model.PipelineError
		if !errors.As(err, &perr) {
			perr = &model.PipelineError{Code: model.ErrCodeInternal, Message: "internal error", Cause: err}
		}
		writeErrorDetail(w, r, perr.HTTPStatus(), model.ErrorDetail{
			Code:             perr.Code,
			Message:          perr.Message,
			RemainingSeconds: perr.RemainingSeconds,
		})
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", audioContentType(result.AudioFormat))
	hdr.Set("X-Koe-Transcript", url.PathEscape(result.Transcript))
	hdr.Set("X-Koe-Reply", url.PathEscape(result.Reply))
	hdr.Set("X-Koe-Agent", result.AgentID)
	hdr.Set("X-Koe-Voice", result.Voice)
	hdr.Set("X-Koe-Duration-Seconds", formatSeconds(result.TotalDurationSeconds))
	hdr.Set("X-Koe-Quota-Used-Seconds", formatSeconds(result.QuotaUsedSeconds))
	hdr.Set("X-Koe-Quota-Remaining-Seconds", formatSeconds(result.QuotaRemainingSeconds))
	hdr.Set("X-Koe-Stt-Provider", result.Transcription.Provider)
	hdr.Set("X-Koe-Llm-Provider", result.Generation.Provider)
	hdr.Set("X-Koe-Tts-Provider", result.Synthesis.Provider)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Audio)
}

// parseAssistRequest extracts the audio payload and options from either a
// multipart form or a raw body.
func (h *Handlers) parseAssistRequest(w http.ResponseWriter, r *http.Request) (model.PipelineRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)

	req := model.PipelineRequest{
		UserID: r.Header.Get("X-Koe-User"),
	}
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxRequestBodyBytes); err != nil {
			return req, err
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return req, errors.New("multipart form is missing the audio file part")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return req, err
		}
		req.Audio = data
		req.Filename = header.Filename
		req.AgentID = r.FormValue("agent_id")
		req.VoiceOverride = r.FormValue("voice")
		req.ConversationID = r.FormValue("conversation_id")
		return req, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return req, err
	}
	q := r.URL.Query()
	req.Audio = data
	req.Filename = "audio"
	req.AgentID = q.Get("agent_id")
	req.VoiceOverride = q.Get("voice")
	req.ConversationID = q.Get("conversation_id")
	return req, nil
}

// HandleQuotaStatus handles GET /v1/quota/status.
//
// Reports the remaining budget for every registered agent for one user.
// Status checks use a zero-cost admission probe so they never consume quota.
func (h *Handlers) HandleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-Koe-User")
	}
	if userID == "" {
		userID = DefaultUserID
	}

	all := h.registry.All()
	statuses := make([]model.QuotaStatus, len(all))

	g, ctx := errgroup.WithContext(r.Context())
	for i, agent := range all {
		g.Go(func() error {
			adm, err := h.store.CheckAdmission(ctx, userID, agent.ID, agent.DailyQuotaSeconds, 0)
			if err != nil {
				return err
			}
			statuses[i] = model.QuotaStatus{
				AgentID:           agent.ID,
				RemainingSeconds:  adm.RemainingSeconds,
				DailyLimitSeconds: adm.LimitSeconds,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Error("quota status lookup failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "quota lookup failed")
		return
	}

	writeJSON(w, r, http.StatusOK, model.QuotaStatusResponse{
		UserID: userID,
		Agents: statuses,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		QuotaBackend: h.quotaBackend,
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

func audioContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/opus"
	default:
		return "application/octet-stream"
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
