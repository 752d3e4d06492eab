package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const openAIProviderName = "openai"

// OpenAIProvider generates replies with OpenAI's chat completions API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates a chat-completions generator. Model is typically
// "gpt-4o-mini". An empty baseURL uses the public API endpoint.
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	User      string        `json:"user,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate implements Generator.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt Prompt) (Reply, error) {
	messages := []chatMessage{}
	if prompt.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.Text})

	reqBody, err := json.Marshal(chatRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: prompt.MaxTokens,
		User:      prompt.ConversationID,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return Reply{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("llm: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return Reply{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: "non-JSON response"}
	}
	if result.Error != nil {
		return Reply{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: result.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return Reply{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: string(body)}
	}
	if len(result.Choices) == 0 {
		return Reply{}, &Error{Provider: openAIProviderName, Status: resp.StatusCode, Message: "no choices in response"}
	}

	return Reply{
		Text:     result.Choices[0].Message.Content,
		Provider: openAIProviderName,
		Model:    result.Model,
		Tokens:   result.Usage.TotalTokens,
	}, nil
}
