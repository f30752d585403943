// Package similarity scores article embeddings against topic and event candidates.
package similarity

import (
	"fmt"
	"math"
	"sort"

	"ArticleClusterer/internal/domain"
)

const (
	// DefaultTopicThreshold is the minimum score for an article to relate to a topic.
	DefaultTopicThreshold = 0.62
	// DefaultEventThreshold is the minimum score for a direct event match. It is
	// deliberately stricter than the topic threshold.
	DefaultEventThreshold = 0.7
)

// Candidate is anything with an id and an embedding (a topic or an event).
type Candidate struct {
	ID        int64
	Embedding domain.Vector
}

// Match is a candidate that passed the threshold.
type Match struct {
	ID    int64
	Score float64
}

// Cosine returns the cosine similarity of a and b. A zero-magnitude vector
// yields 0 instead of an error.
func Cosine(a, b domain.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine %d vs %d: %w", len(a), len(b), domain.ErrDimensionMismatch)
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// clamp rounding noise
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// DualScore is max(cosine(title, c), cosine(summary, c)). An empty title or
// summary embedding is skipped; with both empty the score is 0.
func DualScore(title, summary, candidate domain.Vector) (float64, error) {
	best := math.Inf(-1)
	for _, emb := range []domain.Vector{title, summary} {
		if len(emb) == 0 {
			continue
		}
		s, err := Cosine(emb, candidate)
		if err != nil {
			return 0, err
		}
		if s > best {
			best = s
		}
	}
	if math.IsInf(best, -1) {
		return 0, nil
	}
	return best, nil
}

// RankTopics returns topics scoring at or above threshold, highest first,
// ties broken by ascending id.
func RankTopics(title, summary domain.Vector, topics []Candidate, threshold float64) ([]Match, error) {
	matches, err := score(title, summary, topics, threshold)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

// BestEvent returns the single highest scoring event at or above threshold.
// ok is false when nothing qualifies, including for an empty list.
func BestEvent(title, summary domain.Vector, events []Candidate, threshold float64) (best Match, ok bool, err error) {
	matches, err := score(title, summary, events, threshold)
	if err != nil {
		return Match{}, false, err
	}
	for _, m := range matches {
		if !ok || m.Score > best.Score || (m.Score == best.Score && m.ID < best.ID) {
			best, ok = m, true
		}
	}
	return best, ok, nil
}

func score(title, summary domain.Vector, candidates []Candidate, threshold float64) ([]Match, error) {
	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		s, err := DualScore(title, summary, c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", c.ID, err)
		}
		if s < threshold {
			continue
		}
		out = append(out, Match{ID: c.ID, Score: s})
	}
	return out, nil
}

// TopicCandidates converts topics with an embedding into candidates.
func TopicCandidates(topics []domain.Topic) []Candidate {
	out := make([]Candidate, 0, len(topics))
	for _, t := range topics {
		if len(t.Embedding) == 0 {
			continue
		}
		out = append(out, Candidate{ID: t.ID, Embedding: t.Embedding})
	}
	return out
}

// EventCandidates converts events with an embedding into candidates.
func EventCandidates(events []domain.Event) []Candidate {
	out := make([]Candidate, 0, len(events))
	for _, e := range events {
		if len(e.Embedding) == 0 {
			continue
		}
		out = append(out, Candidate{ID: e.ID, Embedding: e.Embedding})
	}
	return out
}
