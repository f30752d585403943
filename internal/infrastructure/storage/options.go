package storage

import "time"

const (
	defaultMaxAttempts = 3
	defaultStaleAfter  = 30 * time.Minute
)

// Option configures a repository.
type Option func(*settings)

type settings struct {
	maxAttempts int
	staleAfter  time.Duration
	dimension   int
	now         func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{
		maxAttempts: defaultMaxAttempts,
		staleAfter:  defaultStaleAfter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithMaxAttempts sets how many failed attempts make an article permanently failed.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithStaleAfter sets how long a processing claim lasts before the article is offered again.
func WithStaleAfter(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithDimension rejects stored vectors whose length differs from n.
func WithDimension(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.dimension = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}
