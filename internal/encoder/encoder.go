// Package encoder validates embeddings returned by the configured provider.
package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

// DefaultMaxInputChars bounds the text sent to the embedding provider.
const DefaultMaxInputChars = 2048

// Encoder turns text into vectors of a fixed dimension. It never retries;
// the pipeline's attempt counter is the retry policy.
type Encoder struct {
	embedder      ports.Embedder
	dimension     int
	maxInputChars int
	logger        *slog.Logger
}

// New builds an Encoder producing vectors of exactly dimension components.
func New(embedder ports.Embedder, dimension, maxInputChars int, logger *slog.Logger) *Encoder {
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}
	return &Encoder{
		embedder:      embedder,
		dimension:     dimension,
		maxInputChars: maxInputChars,
		logger:        logger,
	}
}

// Dimension returns the vector length every result has.
func (e *Encoder) Dimension() int {
	return e.dimension
}

// Encode embeds text and validates the result.
func (e *Encoder) Encode(ctx context.Context, text string) (domain.Vector, error) {
	return e.encode(ctx, "text", text)
}

// EncodeTopic embeds a topic name.
func (e *Encoder) EncodeTopic(ctx context.Context, name string) (domain.Vector, error) {
	return e.encode(ctx, "topic", name)
}

// EncodeTitle embeds an article title.
func (e *Encoder) EncodeTitle(ctx context.Context, title string) (domain.Vector, error) {
	return e.encode(ctx, "title", title)
}

// EncodeSummary embeds an article summary.
func (e *Encoder) EncodeSummary(ctx context.Context, summary string) (domain.Vector, error) {
	return e.encode(ctx, "summary", summary)
}

// EncodeEvent embeds an event description.
func (e *Encoder) EncodeEvent(ctx context.Context, description string) (domain.Vector, error) {
	return e.encode(ctx, "event", description)
}

func (e *Encoder) encode(ctx context.Context, kind, text string) (domain.Vector, error) {
	if e == nil || e.embedder == nil {
		return nil, fmt.Errorf("encode %s: no embedding provider: %w", kind, domain.ErrEncoding)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("encode %s: empty input: %w", kind, domain.ErrEncoding)
	}
	text = truncateRunes(text, e.maxInputChars)

	raw, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w: %w", kind, domain.ErrEncoding, err)
	}

	vec := domain.Vector(raw)
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("encode %s: got %d components, want %d: %w", kind, len(vec), e.dimension, domain.ErrEncoding)
	}
	if !vec.Finite() {
		return nil, fmt.Errorf("encode %s: non-finite component: %w", kind, domain.ErrEncoding)
	}

	e.debug("encoded text", "kind", kind, "chars", utf8.RuneCountInString(text))
	return vec, nil
}

func (e *Encoder) debug(msg string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Debug(msg, args...)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
