package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArticleClusterer/internal/arbiter"
	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/encoder"
	"ArticleClusterer/internal/infrastructure/storage"
	"ArticleClusterer/internal/ports"
	"ArticleClusterer/internal/summary"
)

const (
	articleTitle   = "Rates up"
	articleContent = "Central bank hikes rates."
)

type textEmbedder struct {
	mu       sync.Mutex
	vectors  map[string]domain.Vector
	fallback domain.Vector
	err      error
	hook     func(ctx context.Context)
	calls    int
}

func (e *textEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	hook, err := e.hook, e.err
	v, ok := e.vectors[text]
	e.mu.Unlock()

	if hook != nil {
		hook(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		v = e.fallback
	}
	return v.Clone(), nil
}

func (e *textEmbedder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type scriptedGenerator struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (g *scriptedGenerator) Complete(context.Context, ports.Completion) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.reply, nil
}

func (g *scriptedGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func unitAt(cos float64) domain.Vector {
	return domain.Vector{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

type harness struct {
	repo     *storage.MemoryRepository
	gen      *scriptedGenerator
	embedder *textEmbedder
	pipeline *Pipeline
	topic    domain.Topic
}

func newHarness(t *testing.T, reply string) *harness {
	t.Helper()

	repo := storage.NewMemoryRepository(storage.WithDimension(2))
	gen := &scriptedGenerator{reply: reply}
	emb := &textEmbedder{
		vectors: map[string]domain.Vector{
			articleTitle:      {1, 0},
			articleContent:    {1, 0},
			"Monetary policy": {1, 0},
		},
		fallback: domain.Vector{0, 1},
	}

	enc := encoder.New(emb, 2, 0, nil)
	arb := arbiter.New(arbiter.Deps{Events: repo, Associations: repo, Generator: gen, Encoder: enc}, arbiter.Settings{})
	p := NewPipeline(PipelineDeps{
		Gateway:   repo,
		Summaries: summary.NewProducer(gen, summary.Settings{}, nil),
		Encoder:   enc,
		Arbiter:   arb,
	}, config.Runtime{
		BatchSize:         10,
		Workers:           1,
		TopicThreshold:    0.62,
		EventThreshold:    0.7,
		DefaultConfidence: 0.8,
		SummaryMaxLength:  2000,
		MinContentChars:   100,
	})

	topic := domain.Topic{ID: 1, UserID: 42, Name: "Monetary policy", Embedding: domain.Vector{1, 0}, Active: true}
	repo.PutTopic(topic)

	return &harness{repo: repo, gen: gen, embedder: emb, pipeline: p, topic: topic}
}

func (h *harness) addArticle(id int64) {
	h.repo.PutArticle(domain.Article{ID: id, UserID: 42, Title: articleTitle, Content: articleContent})
}

func (h *harness) addEvent(id int64, emb domain.Vector) {
	h.repo.PutEvent(domain.Event{ID: id, UserID: 42, TopicID: h.topic.ID, Title: "Hikes", Description: "rate hikes", Embedding: emb})
}

func (h *harness) status(t *testing.T, id int64) domain.Article {
	t.Helper()
	a, ok := h.repo.Article(id)
	require.True(t, ok)
	return a
}

func TestCycleAssignsByNumericMatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.addEvent(5, domain.Vector{1, 0})
	h.addArticle(100)

	report, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Completed)
	assert.NotEmpty(t, report.ID)

	a := h.status(t, 100)
	assert.Equal(t, domain.StatusCompleted, a.Status)
	assert.Equal(t, articleContent, a.Summary)
	assert.Equal(t, domain.Vector{1, 0}, a.TitleEmbedding)
	assert.Equal(t, map[int64]float64{1: 1.0}, h.repo.ArticleTopics(100))
	assert.Equal(t, map[int64]float64{5: 1.0}, h.repo.ArticleEvents(100))
	assert.Zero(t, h.gen.count())
}

func TestCycleBorderlineAssignUsesModelScore(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"assign","event_id":5,"relevance_score":0.66}`)
	h.addEvent(5, unitAt(0.65))
	h.addArticle(100)

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.gen.count())
	assert.Equal(t, map[int64]float64{5: 0.66}, h.repo.ArticleEvents(100))
	assert.Equal(t, domain.StatusCompleted, h.status(t, 100).Status)
}

func TestCycleCreatesEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"create","title":"Rate hike","description":"Central bank raises rates"}`)
	h.addArticle(100)

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)

	events, err := h.repo.ListEvents(context.Background(), h.topic.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Rate hike", events[0].Title)
	assert.Equal(t, int64(42), events[0].UserID)
	assert.Equal(t, map[int64]float64{events[0].ID: 1.0}, h.repo.ArticleEvents(100))
}

func TestCycleUnknownEventFailsArticle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"assign","event_id":999}`)
	h.addEvent(5, unitAt(0.2))
	h.addArticle(100)

	report, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	a := h.status(t, 100)
	assert.Equal(t, domain.StatusFailed, a.Status)
	assert.Equal(t, 1, a.Attempts)
	assert.Contains(t, a.LastError, "not a candidate")
	assert.Empty(t, h.repo.ArticleEvents(100))

	events, err := h.repo.ListEvents(context.Background(), h.topic.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCycleWithoutTopicMatchCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.repo.PutTopic(domain.Topic{ID: 1, UserID: 42, Name: "Football", Embedding: domain.Vector{0, 1}, Active: true})
	h.addArticle(100)

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, h.status(t, 100).Status)
	assert.Empty(t, h.repo.ArticleTopics(100))
	assert.Zero(t, h.gen.count())
}

func TestReprocessingIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"create","title":"Rate hike","description":"Central bank raises rates"}`)
	h.addArticle(100)

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	embedCalls := h.embedder.count()
	first := h.repo.ArticleEvents(100)

	a := h.status(t, 100)
	a.Status = domain.StatusPending
	h.repo.PutArticle(a)

	_, err = h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)

	events, err := h.repo.ListEvents(context.Background(), h.topic.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, first, h.repo.ArticleEvents(100))
	assert.Equal(t, 1, h.gen.count())
	assert.Equal(t, embedCalls, h.embedder.count())
}

func TestArticleFailsUntilAttemptsExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.embedder.err = errors.New("quota exceeded")
	h.addArticle(100)

	var report CycleReport
	for range 3 {
		var err error
		report, err = h.pipeline.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
	}

	a := h.status(t, 100)
	assert.Equal(t, domain.StatusFailed, a.Status)
	assert.Equal(t, 3, a.Attempts)
	assert.Contains(t, a.LastError, "quota exceeded")
	assert.Equal(t, []int64{100}, report.PermanentlyFailed)

	report, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
}

func TestCancelledCycleLeavesArticlesPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.addArticle(100)
	h.addArticle(101)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.pipeline.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, domain.StatusPending, h.status(t, 100).Status)
	assert.Equal(t, domain.StatusPending, h.status(t, 101).Status)
}

func TestInterruptedArticleKeepsItsAttempts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.addArticle(100)

	ctx, cancel := context.WithCancel(context.Background())
	h.embedder.hook = func(context.Context) { cancel() }

	article := h.status(t, 100)
	err := h.pipeline.ProcessArticle(ctx, article)
	require.ErrorIs(t, err, context.Canceled)

	a := h.status(t, 100)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Zero(t, a.Attempts)
}

func TestCancelMidBatchStartsNoFurtherArticle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.addArticle(100)
	h.addArticle(101)
	h.addArticle(102)

	ctx, cancel := context.WithCancel(context.Background())
	h.embedder.hook = func(context.Context) { cancel() }

	report, err := h.pipeline.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Zero(t, report.Completed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 3, report.Skipped)
	// title and summary of the first article only
	assert.LessOrEqual(t, h.embedder.count(), 2)

	for _, id := range []int64{100, 101, 102} {
		a := h.status(t, id)
		assert.Equal(t, domain.StatusPending, a.Status, "article %d", id)
		assert.Zero(t, a.Attempts, "article %d", id)
	}
}

func TestParallelWorkersProcessWholeBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.addEvent(5, domain.Vector{1, 0})
	for id := int64(100); id < 106; id++ {
		h.addArticle(id)
	}
	rt := h.pipeline.Runtime()
	rt.Workers = 3
	h.pipeline.UpdateRuntime(rt)

	report, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Completed)
	for id := int64(100); id < 106; id++ {
		assert.Equal(t, map[int64]float64{5: 1.0}, h.repo.ArticleEvents(id))
	}
}

func TestOverlappingCycleIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.addArticle(100)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.embedder.hook = func(context.Context) {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.pipeline.RunCycle(context.Background())
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the embedder")
	}

	_, err := h.pipeline.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrCycleInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRuntimeUpdateAppliesToNextCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.repo.PutTopic(domain.Topic{ID: 1, UserID: 42, Name: "Monetary policy", Embedding: unitAt(0.9), Active: true})
	h.addArticle(100)

	rt := h.pipeline.Runtime()
	rt.TopicThreshold = 0.95
	h.pipeline.UpdateRuntime(rt)

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.repo.ArticleTopics(100))
}

func TestMissingTopicEmbeddingIsStored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"action":"ignore"}`)
	h.repo.PutTopic(domain.Topic{ID: 1, UserID: 42, Name: "Monetary policy", Active: true})
	h.addArticle(100)

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)

	topic, err := h.repo.GetTopic(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.Vector{1, 0}, topic.Embedding)
	assert.Contains(t, h.repo.ArticleTopics(100), int64(1))
}
