package ml

import (
	"context"
	"fmt"
	"net/url"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

// GeminiEmbedder calls models/{model}:embedContent.
type GeminiEmbedder struct {
	base
}

var _ ports.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates an embedder authenticated with an API key header.
func NewGeminiEmbedder(cfg config.EmbeddingConfig) *GeminiEmbedder {
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	headers := map[string]string{"x-goog-api-key": cfg.APIKey}
	return &GeminiEmbedder{base: newBase(cfg, "https://generativelanguage.googleapis.com", headers)}
}

// Embed requests a document-retrieval embedding truncated to the configured dimension.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": "models/" + e.model,
		"content": map[string]any{
			"parts": []map[string]string{{"text": text}},
		},
		"taskType": "RETRIEVAL_DOCUMENT",
	}
	if e.dimension > 0 {
		payload["outputDimensionality"] = e.dimension
	}

	var resp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:embedContent", e.endpoint, url.PathEscape(e.model))
	if err := e.http.PostJSON(ctx, endpoint, payload, &resp); err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w: %w", domain.ErrProvider, err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embeddings: no embedding returned: %w", domain.ErrProvider)
	}
	return resp.Embedding.Values, nil
}
