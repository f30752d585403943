package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArticleClusterer/internal/domain"
)

// unitAt returns a 2D unit vector whose cosine with (1,0) equals cos.
func unitAt(cos float64) domain.Vector {
	return domain.Vector{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b domain.Vector
		want float64
	}{
		{"identical", domain.Vector{1, 2, 3}, domain.Vector{1, 2, 3}, 1},
		{"orthogonal", domain.Vector{1, 0}, domain.Vector{0, 1}, 0},
		{"opposite", domain.Vector{1, 1}, domain.Vector{-1, -1}, -1},
		{"scaled", domain.Vector{1, 2}, domain.Vector{10, 20}, 1},
		{"zero left", domain.Vector{0, 0}, domain.Vector{1, 2}, 0},
		{"zero right", domain.Vector{3, 4}, domain.Vector{0, 0}, 0},
		{"empty", domain.Vector{}, domain.Vector{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	t.Parallel()

	_, err := Cosine(domain.Vector{1, 2}, domain.Vector{1, 2, 3})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestCosineSelfSimilarity(t *testing.T) {
	t.Parallel()

	vectors := []domain.Vector{
		{0.1, -0.4, 7.5},
		{1e-3, 1e-3, 1e-3, 1e-3},
		{-12, 0, 3.25},
	}
	for _, v := range vectors {
		got, err := Cosine(v, v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got, 1e-6)
	}
}

func TestRankTopicsTitleMatch(t *testing.T) {
	t.Parallel()

	topics := []Candidate{{ID: 7, Embedding: domain.Vector{1, 0}}}
	got, err := RankTopics(unitAt(0.70), domain.Vector{0, 1}, topics, DefaultTopicThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
	assert.InDelta(t, 0.70, got[0].Score, 1e-6)
}

func TestRankTopicsOrdering(t *testing.T) {
	t.Parallel()

	topics := []Candidate{
		{ID: 4, Embedding: domain.Vector{1, 0}},
		{ID: 2, Embedding: domain.Vector{1, 0}},
		{ID: 3, Embedding: unitAt(0.8)},
		{ID: 1, Embedding: domain.Vector{0, 1}},
	}
	got, err := RankTopics(domain.Vector{1, 0}, nil, topics, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 4, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})
}

func TestRankTopicsLowerThresholdIsSuperset(t *testing.T) {
	t.Parallel()

	topics := []Candidate{
		{ID: 1, Embedding: unitAt(0.9)},
		{ID: 2, Embedding: unitAt(0.65)},
		{ID: 3, Embedding: unitAt(0.5)},
		{ID: 4, Embedding: unitAt(0.2)},
	}
	title := domain.Vector{1, 0}
	summary := unitAt(0.3)

	thresholds := []float64{0.9, 0.62, 0.5, 0.1, -1}
	var previous []Match
	for _, th := range thresholds {
		got, err := RankTopics(title, summary, topics, th)
		require.NoError(t, err)
		ids := map[int64]bool{}
		for _, m := range got {
			ids[m.ID] = true
			assert.GreaterOrEqual(t, m.Score, th)
		}
		for _, m := range previous {
			assert.Truef(t, ids[m.ID], "topic %d dropped at threshold %.2f", m.ID, th)
		}
		previous = got
	}
}

func TestRankTopicsZeroTitleEmbedding(t *testing.T) {
	t.Parallel()

	topics := []Candidate{{ID: 1, Embedding: domain.Vector{1, 0}}}
	got, err := RankTopics(domain.Vector{0, 0}, unitAt(0.9), topics, DefaultTopicThreshold)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
}

func TestRankTopicsDimensionMismatch(t *testing.T) {
	t.Parallel()

	topics := []Candidate{{ID: 1, Embedding: domain.Vector{1, 0, 0}}}
	_, err := RankTopics(domain.Vector{1, 0}, nil, topics, 0)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestBestEvent(t *testing.T) {
	t.Parallel()

	title := domain.Vector{1, 0}

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()
		_, ok, err := BestEvent(title, title, nil, 0)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("below threshold", func(t *testing.T) {
		t.Parallel()
		events := []Candidate{
			{ID: 1, Embedding: unitAt(0.55)},
			{ID: 2, Embedding: unitAt(0.68)},
		}
		_, ok, err := BestEvent(title, nil, events, DefaultEventThreshold)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("highest wins", func(t *testing.T) {
		t.Parallel()
		events := []Candidate{
			{ID: 1, Embedding: unitAt(0.75)},
			{ID: 2, Embedding: unitAt(0.95)},
			{ID: 3, Embedding: unitAt(0.8)},
		}
		got, ok, err := BestEvent(title, nil, events, DefaultEventThreshold)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2), got.ID)
		assert.InDelta(t, 0.95, got.Score, 1e-6)
	})

	t.Run("tie prefers lower id", func(t *testing.T) {
		t.Parallel()
		events := []Candidate{
			{ID: 9, Embedding: domain.Vector{1, 0}},
			{ID: 5, Embedding: domain.Vector{1, 0}},
		}
		got, ok, err := BestEvent(title, nil, events, DefaultEventThreshold)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(5), got.ID)
	})

	t.Run("summary match is enough", func(t *testing.T) {
		t.Parallel()
		events := []Candidate{{ID: 1, Embedding: unitAt(0.85)}}
		got, ok, err := BestEvent(domain.Vector{0, 1}, domain.Vector{1, 0}, events, DefaultEventThreshold)
		require.NoError(t, err)
		require.True(t, ok)
		assert.InDelta(t, 0.85, got.Score, 1e-6)
	})
}

func TestCandidatesSkipMissingEmbeddings(t *testing.T) {
	t.Parallel()

	topics := TopicCandidates([]domain.Topic{{ID: 1}, {ID: 2, Embedding: domain.Vector{1}}})
	require.Len(t, topics, 1)
	assert.Equal(t, int64(2), topics[0].ID)

	events := EventCandidates([]domain.Event{{ID: 3, Embedding: domain.Vector{1}}, {ID: 4}})
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].ID)
}
