package ml

import (
	"context"
	"fmt"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	base
}

var _ ports.Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder builds an embedder; the configured dimension is requested explicitly.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) *OpenAIEmbedder {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{base: newBase(cfg, "https://api.openai.com/v1", headers)}
}

// Embed returns the first embedding of the response.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": e.model,
		"input": text,
	}
	if e.dimension > 0 {
		payload["dimensions"] = e.dimension
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := e.http.PostJSON(ctx, e.endpoint+"/embeddings", payload, &resp); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w: %w", domain.ErrProvider, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embeddings: no embedding returned: %w", domain.ErrProvider)
	}
	return resp.Data[0].Embedding, nil
}
