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

const defaultOllamaEndpoint = "http://localhost:11434"

// OllamaClient implements ports.TextGenerator using a local Ollama server.
type OllamaClient struct {
	endpoint string
	system   string
	client   *httpclient.Client
}

var _ ports.TextGenerator = (*OllamaClient)(nil)

// NewOllamaClient creates a client for the Ollama generate API.
func NewOllamaClient(cfg config.LLMConfig) *OllamaClient {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	return &OllamaClient{
		endpoint: endpoint,
		system:   strings.TrimSpace(cfg.SystemPrompt),
		client:   httpclient.New(cfg.Timeout, cfg.MaxRetries, nil),
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Complete runs a non-streaming generation.
func (c *OllamaClient) Complete(ctx context.Context, req ports.Completion) (string, error) {
	if req.Model == "" {
		return "", fmt.Errorf("ollama generate: model is empty: %w", domain.ErrProvider)
	}

	body := generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: c.system,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}
	if req.JSON {
		body.Format = "json"
	}

	var resp generateResponse
	if err := c.client.PostJSON(ctx, c.endpoint+"/api/generate", body, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w: %w", domain.ErrProvider, err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", fmt.Errorf("ollama generate: empty response: %w", domain.ErrProvider)
	}
	return resp.Response, nil
}
