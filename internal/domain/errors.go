package domain

import (
	"errors"
	"math"
)

// Error kinds surfaced by the clustering core. Callers match them with errors.Is.
var (
	ErrEncoding          = errors.New("encoding failed")
	ErrSummarization     = errors.New("summarization failed")
	ErrArbitration       = errors.New("arbitration failed")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrPersistence       = errors.New("persistence failed")
	ErrProvider          = errors.New("provider request failed")
	ErrNotFound          = errors.New("not found")
)

// ValidRelevance reports whether score is a usable relevance in [0,1].
func ValidRelevance(score float64) bool {
	return !math.IsNaN(score) && score >= 0 && score <= 1
}
