package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

// Observer receives one sample per provider call.
type Observer interface {
	ObserveProvider(provider, operation string, d time.Duration, err error)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w: %w", domain.ErrProvider, err)
	}
	return nil
}

type generator struct {
	name     string
	next     ports.TextGenerator
	limiter  *rate.Limiter
	observer Observer
}

// Generator wraps next with a requests-per-second limit and call metrics.
// A non-positive rps disables limiting; observer may be nil.
func Generator(name string, next ports.TextGenerator, rps float64, observer Observer) ports.TextGenerator {
	return &generator{name: name, next: next, limiter: newLimiter(rps), observer: observer}
}

func (g *generator) Complete(ctx context.Context, req ports.Completion) (string, error) {
	if err := wait(ctx, g.limiter); err != nil {
		return "", err
	}
	start := time.Now()
	out, err := g.next.Complete(ctx, req)
	if g.observer != nil {
		g.observer.ObserveProvider(g.name, "complete", time.Since(start), err)
	}
	return out, err
}

type embedder struct {
	name     string
	next     ports.Embedder
	limiter  *rate.Limiter
	observer Observer
}

// Embedder wraps next with a requests-per-second limit and call metrics.
func Embedder(name string, next ports.Embedder, rps float64, observer Observer) ports.Embedder {
	return &embedder{name: name, next: next, limiter: newLimiter(rps), observer: observer}
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := e.next.Embed(ctx, text)
	if e.observer != nil {
		e.observer.ObserveProvider(e.name, "embed", time.Since(start), err)
	}
	return out, err
}
