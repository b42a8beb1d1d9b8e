package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/config"
)

// GroqClient handles communication with Groq API
type GroqClient struct {
	api    jsonAPI
	apiKey string
	model  string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat constrains the model output; "json_object" forces a single
// JSON object.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig, log zerolog.Logger) *GroqClient {
	return &GroqClient{
		api: jsonAPI{
			service:    "groq",
			httpClient: &http.Client{Timeout: 60 * time.Second},
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			authHeader: "Bearer " + cfg.APIKey,
			log:        log,
		},
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}

// ChatJSON sends a chat completion in JSON mode and returns the raw content
// of the first choice.
func (c *GroqClient) ChatJSON(ctx context.Context, system string, history []ChatMessage, user string) (string, error) {
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: "user", Content: user})

	reqBody := ChatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    0.2,
		MaxTokens:      1024,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	var chatResp ChatCompletionResponse
	if err := c.api.post(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}
