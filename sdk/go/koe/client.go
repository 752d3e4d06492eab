package koe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Koe server (e.g. "http://localhost:8080").
	BaseURL string

	// UserID identifies the caller for quota accounting. Empty means the
	// shared anonymous user.
	UserID string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 120-second timeout is used (assist calls wait on three upstream
	// providers).
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is nil. Defaults to 120 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Koe voice assistant API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	userID  string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("koe: BaseURL is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		userID:  cfg.UserID,
		client:  client,
	}, nil
}

// Assist sends audio through the pipeline and returns the synthesized reply.
func (c *Client) Assist(ctx context.Context, req AssistRequest) (*AssistResult, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("koe: Audio is required")
	}

	u := c.baseURL + "/v1/assist"
	q := url.Values{}
	if req.AgentID != "" {
		q.Set("agent_id", req.AgentID)
	}
	if req.Voice != "" {
		q.Set("voice", req.Voice)
	}
	if req.ConversationID != "" {
		q.Set("conversation_id", req.ConversationID)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(req.Audio))
	if err != nil {
		return nil, fmt.Errorf("koe: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if c.userID != "" {
		httpReq.Header.Set("X-Koe-User", c.userID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("koe: assist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("koe: read audio: %w", err)
	}

	transcript, err := url.PathUnescape(resp.Header.Get("X-Koe-Transcript"))
	if err != nil {
		return nil, fmt.Errorf("koe: decode transcript header: %w", err)
	}
	reply, err := url.PathUnescape(resp.Header.Get("X-Koe-Reply"))
	if err != nil {
		return nil, fmt.Errorf("koe: decode reply header: %w", err)
	}

	return &AssistResult{
		Audio:                 audio,
		AudioContentType:      resp.Header.Get("Content-Type"),
		Transcript:            transcript,
		Reply:                 reply,
		AgentID:               resp.Header.Get("X-Koe-Agent"),
		Voice:                 resp.Header.Get("X-Koe-Voice"),
		DurationSeconds:       headerFloat(resp, "X-Koe-Duration-Seconds"),
		QuotaUsedSeconds:      headerFloat(resp, "X-Koe-Quota-Used-Seconds"),
		QuotaRemainingSeconds: headerFloat(resp, "X-Koe-Quota-Remaining-Seconds"),
		STTProvider:           resp.Header.Get("X-Koe-Stt-Provider"),
		LLMProvider:           resp.Header.Get("X-Koe-Llm-Provider"),
		TTSProvider:           resp.Header.Get("X-Koe-Tts-Provider"),
	}, nil
}

// QuotaStatus reports the remaining per-agent budget for the client's user.
// Status checks never consume quota.
func (c *Client) QuotaStatus(ctx context.Context) (*QuotaStatus, error) {
	u := c.baseURL + "/v1/quota/status"
	if c.userID != "" {
		u += "?user_id=" + url.QueryEscape(c.userID)
	}
	var out envelope[QuotaStatus]
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Health reports the server's health and configured quota backend.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out envelope[Health]
	if err := c.getJSON(ctx, c.baseURL+"/health", &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) getJSON(ctx context.Context, u string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("koe: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("koe: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("koe: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		return &Error{
			StatusCode: resp.StatusCode,
			Code:       "UNKNOWN",
			Message:    strings.TrimSpace(string(body)),
		}
	}
	return &Error{
		StatusCode:       resp.StatusCode,
		Code:             env.Error.Code,
		Message:          env.Error.Message,
		RemainingSeconds: env.Error.RemainingSeconds,
	}
}

func headerFloat(resp *http.Response, key string) float64 {
	v, err := strconv.ParseFloat(resp.Header.Get(key), 64)
	if err != nil {
		return 0
	}
	return v
}
