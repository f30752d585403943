package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/infrastructure/httpclient"
	"ArticleClusterer/internal/ports"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

// GeminiClient implements ports.TextGenerator over the Gemini REST API.
type GeminiClient struct {
	endpoint string
	system   string
	client   *httpclient.Client
}

var _ ports.TextGenerator = (*GeminiClient)(nil)

// NewGeminiClient creates a client authenticated with an API key header.
func NewGeminiClient(cfg config.LLMConfig) *GeminiClient {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	return &GeminiClient{
		endpoint: endpoint,
		system:   strings.TrimSpace(cfg.SystemPrompt),
		client:   httpclient.New(cfg.Timeout, cfg.MaxRetries, map[string]string{"x-goog-api-key": cfg.APIKey}),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Complete calls models/{model}:generateContent and joins the text parts of the first candidate.
func (c *GeminiClient) Complete(ctx context.Context, req ports.Completion) (string, error) {
	if req.Model == "" {
		return "", fmt.Errorf("gemini generate: model is empty: %w", domain.ErrProvider)
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if c.system != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: c.system}}}
	}
	if req.JSON {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, url.PathEscape(req.Model))

	var resp geminiResponse
	if err := c.client.PostJSON(ctx, endpoint, body, &resp); err != nil {
		return "", fmt.Errorf("gemini generate: %w: %w", domain.ErrProvider, err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini generate: no candidates: %w", domain.ErrProvider)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("gemini generate: empty response (finish reason %q): %w", resp.Candidates[0].FinishReason, domain.ErrProvider)
	}
	return b.String(), nil
}
