package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const openAIProviderName = "openai-tts"

// OpenAIProvider synthesizes speech with OpenAI's speech API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates a speech synthesizer. Model is typically "tts-1".
// An empty baseURL uses the public API endpoint.
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

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize implements Synthesizer. The response body is the raw audio.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	reqBody, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return Audio{}, fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(reqBody))
	if err != nil {
		return Audio{}, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("tts: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("tts: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Error bodies are JSON even though success bodies are raw audio.
		var apiErr struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return Audio{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: msg}
	}

	return Audio{
		Data:     body,
		Provider: openAIProviderName,
		Voice:    voice,
		Format:   "mp3",
	}, nil
}
