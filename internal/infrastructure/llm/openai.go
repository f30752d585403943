package llm

import (
	"context"
	"fmt"
	"strings"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/infrastructure/httpclient"
	"ArticleClusterer/internal/ports"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIClient implements ports.TextGenerator backed by OpenAI-compatible chat completions.
type OpenAIClient struct {
	endpoint     string
	systemPrompt string
	client       *httpclient.Client
}

var _ ports.TextGenerator = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &OpenAIClient{
		endpoint:     endpoint,
		systemPrompt: cfg.SystemPrompt,
		client:       httpclient.New(cfg.Timeout, cfg.MaxRetries, headers),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt as a user message and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req ports.Completion) (string, error) {
	if c == nil {
		return "", fmt.Errorf("openai client is nil: %w", domain.ErrProvider)
	}
	if req.Model == "" {
		return "", fmt.Errorf("openai completion: model is empty: %w", domain.ErrProvider)
	}

	var messages []chatMessage
	if p := strings.TrimSpace(c.systemPrompt); p != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var resp chatResponse
	if err := c.client.PostJSON(ctx, c.endpoint+"/chat/completions", body, &resp); err != nil {
		return "", fmt.Errorf("openai completion: %w: %w", domain.ErrProvider, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai completion: empty response: %w", domain.ErrProvider)
	}

	return resp.Choices[0].Message.Content, nil
}
