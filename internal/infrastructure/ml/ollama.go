package ml

import (
	"context"
	"fmt"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

// OllamaEmbedder uses the Ollama /api/embeddings endpoint.
type OllamaEmbedder struct {
	base
}

var _ ports.Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder for a local Ollama server.
func NewOllamaEmbedder(cfg config.EmbeddingConfig) *OllamaEmbedder {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &OllamaEmbedder{base: newBase(cfg, "http://localhost:11434", nil)}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]string{
		"model":  e.model,
		"prompt": text,
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := e.http.PostJSON(ctx, e.endpoint+"/api/embeddings", payload, &resp); err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w: %w", domain.ErrProvider, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embeddings: no embedding returned: %w", domain.ErrProvider)
	}
	return resp.Embedding, nil
}
