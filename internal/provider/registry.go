// Package provider resolves configured model backends by name.
package provider

import (
	"fmt"
	"sort"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/infrastructure/llm"
	"ArticleClusterer/internal/infrastructure/ml"
	"ArticleClusterer/internal/ports"
)

// GeneratorFactory builds a text generator from configuration.
type GeneratorFactory func(cfg config.LLMConfig) ports.TextGenerator

// EmbedderFactory builds an embedder from configuration.
type EmbedderFactory func(cfg config.EmbeddingConfig) ports.Embedder

// Registry keeps a mapping from provider names to their factories.
type Registry struct {
	generators map[string]GeneratorFactory
	embedders  map[string]EmbedderFactory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		generators: map[string]GeneratorFactory{},
		embedders:  map[string]EmbedderFactory{},
	}
}

// Default returns a registry with every built-in backend.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterGenerator("openai", func(cfg config.LLMConfig) ports.TextGenerator { return llm.NewOpenAIClient(cfg) })
	r.RegisterGenerator("ollama", func(cfg config.LLMConfig) ports.TextGenerator { return llm.NewOllamaClient(cfg) })
	r.RegisterGenerator("gemini", func(cfg config.LLMConfig) ports.TextGenerator { return llm.NewGeminiClient(cfg) })
	r.RegisterEmbedder("openai", func(cfg config.EmbeddingConfig) ports.Embedder { return ml.NewOpenAIEmbedder(cfg) })
	r.RegisterEmbedder("ollama", func(cfg config.EmbeddingConfig) ports.Embedder { return ml.NewOllamaEmbedder(cfg) })
	r.RegisterEmbedder("gemini", func(cfg config.EmbeddingConfig) ports.Embedder { return ml.NewGeminiEmbedder(cfg) })
	return r
}

// RegisterGenerator adds or replaces a generator factory.
func (r *Registry) RegisterGenerator(name string, factory GeneratorFactory) {
	if r.generators == nil {
		r.generators = map[string]GeneratorFactory{}
	}
	r.generators[name] = factory
}

// RegisterEmbedder adds or replaces an embedder factory.
func (r *Registry) RegisterEmbedder(name string, factory EmbedderFactory) {
	if r.embedders == nil {
		r.embedders = map[string]EmbedderFactory{}
	}
	r.embedders[name] = factory
}

// Generator builds the generator named by cfg.Provider.
func (r *Registry) Generator(cfg config.LLMConfig) (ports.TextGenerator, error) {
	factory, ok := r.generators[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not registered (known: %v)", cfg.Provider, names(r.generators))
	}
	return factory(cfg), nil
}

// Embedder builds the embedder named by cfg.Provider.
func (r *Registry) Embedder(cfg config.EmbeddingConfig) (ports.Embedder, error) {
	factory, ok := r.embedders[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q is not registered (known: %v)", cfg.Provider, names(r.embedders))
	}
	return factory(cfg), nil
}

func names[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
