// Package ml holds embedding provider adapters.
package ml

import (
	"strings"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/infrastructure/httpclient"
)

// base carries what every embedding adapter needs.
type base struct {
	endpoint  string
	model     string
	dimension int
	http      *httpclient.Client
}

func newBase(cfg config.EmbeddingConfig, fallbackEndpoint string, headers map[string]string) base {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fallbackEndpoint
	}
	return base{
		endpoint:  endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		http:      httpclient.New(cfg.Timeout, cfg.MaxRetries, headers),
	}
}
