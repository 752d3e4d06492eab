package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const openAIProviderName = "openai-whisper"

// OpenAIProvider transcribes audio with OpenAI's transcription API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates a Whisper transcriber. Model is typically
// "whisper-1". An empty baseURL uses the public API endpoint.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

type openAITranscription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"` // Seconds; present with verbose_json.
	Error    *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transcribe implements Transcriber.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, filename string) (Transcription, error) {
	if filename == "" {
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Transcription{}, fmt.Errorf("stt: create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Transcription{}, fmt.Errorf("stt: write audio: %w", err)
	}
	if err := mw.WriteField("model", p.model); err != nil {
		return Transcription{}, fmt.Errorf("stt: write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return Transcription{}, fmt.Errorf("stt: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Transcription{}, fmt.Errorf("stt: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return Transcription{}, fmt.Errorf("stt: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("stt: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcription{}, fmt.Errorf("stt: read response: %w", err)
	}

	var result openAITranscription
	if err := json.Unmarshal(body, &result); err != nil {
		return Transcription{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: "non-JSON response"}
	}
	if result.Error != nil {
		return Transcription{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: result.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return Transcription{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: string(body)}
	}

	return Transcription{
		Text:       result.Text,
		Provider:   openAIProviderName,
		DurationMs: result.Duration * 1000,
	}, nil
}
