// Package summary condenses article content with a text-generation provider.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

const (
	DefaultMaxLength       = 2000
	DefaultMinContentChars = 100
	DefaultMaxPromptChars  = 30000
)

// DefaultPrompt is used when no summary_creation prompt is configured.
// Placeholders: {title}, {content}.
const DefaultPrompt = `You are a summarization assistant for news and documents.
Extract only the main facts and key information from the given article.

Rules:
1. Output 3-7 concise sentences, one per line, in the language of the article.
2. Include people, time, locations, and outcomes ordered by importance.
3. Do not invent any content.

Title: {title}
Article: {content}

Summary:`

// Settings tune prompt rendering and output validation. They can change between cycles.
type Settings struct {
	Prompt         string
	Model          string
	MaxTokens      int
	Temperature    float64
	MaxPromptChars int
	// MaxLength is the upper bound in runes for an accepted summary.
	MaxLength int
	// MinContentChars below which the content itself is used as the summary.
	MinContentChars int
	// Truncate cuts over-long summaries instead of rejecting them.
	Truncate bool
}

func (s Settings) withDefaults() Settings {
	if strings.TrimSpace(s.Prompt) == "" {
		s.Prompt = DefaultPrompt
	}
	if s.MaxLength <= 0 {
		s.MaxLength = DefaultMaxLength
	}
	if s.MaxPromptChars <= 0 {
		s.MaxPromptChars = DefaultMaxPromptChars
	}
	if s.MinContentChars < 0 {
		s.MinContentChars = 0
	}
	return s
}

// Producer builds article summaries.
type Producer struct {
	generator ports.TextGenerator
	settings  Settings
	logger    *slog.Logger
}

// NewProducer wires a text generator with summary settings.
func NewProducer(generator ports.TextGenerator, settings Settings, logger *slog.Logger) *Producer {
	return &Producer{generator: generator, settings: settings.withDefaults(), logger: logger}
}

// WithSettings returns a copy of the producer that uses settings.
func (p *Producer) WithSettings(settings Settings) *Producer {
	cp := *p
	cp.settings = settings.withDefaults()
	return &cp
}

// Summarize returns a validated summary of the article.
func (p *Producer) Summarize(ctx context.Context, article domain.Article) (string, error) {
	content, err := PlainText(article.Content)
	if err != nil {
		return "", fmt.Errorf("summarize article %d: %w: %w", article.ID, domain.ErrSummarization, err)
	}

	if utf8.RuneCountInString(content) < p.settings.MinContentChars {
		p.debug("content too short for model, using it verbatim", "article_id", article.ID)
		return p.validate(article.ID, content)
	}

	if p.generator == nil {
		return "", fmt.Errorf("summarize article %d: no text generator: %w", article.ID, domain.ErrSummarization)
	}

	prompt := RenderPrompt(p.settings.Prompt, article.Title, content)
	prompt = truncateRunes(prompt, p.settings.MaxPromptChars)

	out, err := p.generator.Complete(ctx, ports.Completion{
		Prompt:      prompt,
		Model:       p.settings.Model,
		MaxTokens:   p.settings.MaxTokens,
		Temperature: p.settings.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("summarize article %d: %w: %w", article.ID, domain.ErrSummarization, err)
	}

	return p.validate(article.ID, out)
}

func (p *Producer) validate(articleID int64, text string) (string, error) {
	text = strings.TrimSpace(text)
	if degenerate(text) {
		return "", fmt.Errorf("summarize article %d: empty or degenerate output: %w", articleID, domain.ErrSummarization)
	}

	if n := utf8.RuneCountInString(text); n > p.settings.MaxLength {
		if !p.settings.Truncate {
			return "", fmt.Errorf("summarize article %d: %d runes exceeds limit %d: %w", articleID, n, p.settings.MaxLength, domain.ErrSummarization)
		}
		text = strings.TrimSpace(truncateRunes(text, p.settings.MaxLength))
		p.debug("summary truncated", "article_id", articleID, "runes", n)
	}

	return text, nil
}

// RenderPrompt fills the {title} and {content} placeholders.
func RenderPrompt(template, title, content string) string {
	return strings.NewReplacer("{title}", title, "{content}", content).Replace(template)
}

// degenerate is true for text with no letters or digits at all.
func degenerate(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func (p *Producer) debug(msg string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Debug(msg, args...)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
