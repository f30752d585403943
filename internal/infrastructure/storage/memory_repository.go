package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

type pair struct {
	left  int64
	right int64
}

// MemoryRepository is an in-process Gateway used for dry runs and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	settings settings

	topics        map[int64]domain.Topic
	events        map[int64]domain.Event
	articles      map[int64]domain.Article
	articleTopics map[pair]float64
	articleEvents map[pair]float64
	decisions     map[pair]domain.EventDecision
	nextEventID   int64
}

var _ ports.Gateway = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty repository.
func NewMemoryRepository(opts ...Option) *MemoryRepository {
	return &MemoryRepository{
		settings:      newSettings(opts),
		topics:        map[int64]domain.Topic{},
		events:        map[int64]domain.Event{},
		articles:      map[int64]domain.Article{},
		articleTopics: map[pair]float64{},
		articleEvents: map[pair]float64{},
		decisions:     map[pair]domain.EventDecision{},
	}
}

// PutTopic inserts or replaces a topic.
func (r *MemoryRepository) PutTopic(topic domain.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	topic.Embedding = topic.Embedding.Clone()
	r.topics[topic.ID] = topic
}

// PutArticle inserts or replaces an article. An empty status becomes pending.
func (r *MemoryRepository) PutArticle(article domain.Article) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if article.Status == "" {
		article.Status = domain.StatusPending
	}
	if article.UpdatedAt.IsZero() {
		article.UpdatedAt = r.settings.now()
	}
	r.articles[article.ID] = cloneArticle(article)
}

// Article returns a stored article.
func (r *MemoryRepository) Article(id int64) (domain.Article, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.articles[id]
	return cloneArticle(a), ok
}

// ArticleTopics returns topic id to relevance for an article.
func (r *MemoryRepository) ArticleTopics(articleID int64) map[int64]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.articleTopics, articleID)
}

// ArticleEvents returns event id to relevance for an article.
func (r *MemoryRepository) ArticleEvents(articleID int64) map[int64]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.articleEvents, articleID)
}

func collect(m map[pair]float64, articleID int64) map[int64]float64 {
	out := map[int64]float64{}
	for k, v := range m {
		if k.left == articleID {
			out[k.right] = v
		}
	}
	return out
}

func (r *MemoryRepository) ListActiveTopics(_ context.Context, userID int64) ([]domain.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		if !t.Active || (userID != 0 && t.UserID != userID) {
			continue
		}
		t.Embedding = t.Embedding.Clone()
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) GetTopic(_ context.Context, topicID int64) (domain.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.topics[topicID]
	if !ok {
		return domain.Topic{}, fmt.Errorf("topic %d: %w", topicID, domain.ErrNotFound)
	}
	t.Embedding = t.Embedding.Clone()
	return t, nil
}

func (r *MemoryRepository) SaveTopicEmbedding(_ context.Context, topicID int64, embedding domain.Vector) error {
	if err := r.checkDimension(embedding); err != nil {
		return fmt.Errorf("save topic %d embedding: %w", topicID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[topicID]
	if !ok {
		return fmt.Errorf("topic %d: %w", topicID, domain.ErrNotFound)
	}
	t.Embedding = embedding.Clone()
	r.topics[topicID] = t
	return nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, topicID int64) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Event
	for _, e := range r.events {
		if e.TopicID != topicID {
			continue
		}
		e.Embedding = e.Embedding.Clone()
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) CreateEvent(_ context.Context, event domain.NewEvent) (int64, error) {
	if err := r.checkDimension(event.Embedding); err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[event.TopicID]; !ok {
		return 0, fmt.Errorf("create event: topic %d: %w", event.TopicID, domain.ErrNotFound)
	}

	r.nextEventID++
	id := r.nextEventID
	r.events[id] = domain.Event{
		ID:               id,
		UserID:           event.UserID,
		TopicID:          event.TopicID,
		Title:            event.Title,
		Description:      event.Description,
		EventDescription: event.EventDescription,
		Embedding:        event.Embedding.Clone(),
		LastUpdatedAt:    r.settings.now(),
	}
	return id, nil
}

// PutEvent seeds an existing event and keeps generated ids above it.
func (r *MemoryRepository) PutEvent(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Embedding = event.Embedding.Clone()
	r.events[event.ID] = event
	if event.ID > r.nextEventID {
		r.nextEventID = event.ID
	}
}

func (r *MemoryRepository) TouchEvent(_ context.Context, eventID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[eventID]
	if !ok {
		return fmt.Errorf("event %d: %w", eventID, domain.ErrNotFound)
	}
	e.LastUpdatedAt = r.settings.now()
	r.events[eventID] = e
	return nil
}

func (r *MemoryRepository) UpsertArticleTopic(_ context.Context, articleID, topicID int64, score float64) error {
	if !domain.ValidRelevance(score) {
		return fmt.Errorf("article %d topic %d relevance %v: %w", articleID, topicID, score, domain.ErrPersistence)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := pair{articleID, topicID}
	if _, ok := r.articleTopics[key]; !ok {
		r.articleTopics[key] = score
	}
	return nil
}

func (r *MemoryRepository) UpsertArticleEvent(_ context.Context, articleID, eventID int64, score float64) error {
	if !domain.ValidRelevance(score) {
		return fmt.Errorf("article %d event %d relevance %v: %w", articleID, eventID, score, domain.ErrPersistence)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[eventID]
	if !ok {
		return fmt.Errorf("event %d: %w", eventID, domain.ErrNotFound)
	}
	if _, linked := r.articleTopics[pair{articleID, e.TopicID}]; !linked {
		return fmt.Errorf("article %d is not linked to topic %d of event %d: %w", articleID, e.TopicID, eventID, domain.ErrPersistence)
	}
	key := pair{articleID, eventID}
	if _, ok := r.articleEvents[key]; !ok {
		r.articleEvents[key] = score
	}
	return nil
}

func (r *MemoryRepository) EventDecision(_ context.Context, articleID, topicID int64) (domain.EventDecision, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decisions[pair{articleID, topicID}]
	return d, ok, nil
}

func (r *MemoryRepository) RecordEventDecision(_ context.Context, decision domain.EventDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[pair{decision.ArticleID, decision.TopicID}] = decision
	return nil
}

func (r *MemoryRepository) GetPendingArticles(_ context.Context, limit int) ([]domain.Article, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	staleBefore := r.settings.now().Add(-r.settings.staleAfter)
	var out []domain.Article
	for _, a := range r.articles {
		switch a.Status {
		case domain.StatusPending:
		case domain.StatusProcessing:
			if a.UpdatedAt.After(staleBefore) {
				continue
			}
		case domain.StatusFailed:
			if a.Attempts >= r.settings.maxAttempts {
				continue
			}
		default:
			continue
		}
		out = append(out, cloneArticle(a))
	}
	sortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkArticleStatus(_ context.Context, articleID int64, status domain.ProcessingStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("article %d status %q: %w", articleID, status, domain.ErrPersistence)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.articles[articleID]
	if !ok {
		return fmt.Errorf("article %d: %w", articleID, domain.ErrNotFound)
	}
	a.Status = status
	a.UpdatedAt = r.settings.now()
	switch status {
	case domain.StatusFailed:
		a.Attempts++
		a.LastError = errMsg
	case domain.StatusCompleted:
		a.LastError = ""
	}
	r.articles[articleID] = a
	return nil
}

func (r *MemoryRepository) SaveArticleAnalysis(_ context.Context, articleID int64, analysis domain.ArticleAnalysis) error {
	for _, v := range []domain.Vector{analysis.TitleEmbedding, analysis.SummaryEmbedding} {
		if err := r.checkDimension(v); err != nil {
			return fmt.Errorf("save article %d analysis: %w", articleID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.articles[articleID]
	if !ok {
		return fmt.Errorf("article %d: %w", articleID, domain.ErrNotFound)
	}
	a.Summary = analysis.Summary
	a.TitleEmbedding = analysis.TitleEmbedding.Clone()
	a.SummaryEmbedding = analysis.SummaryEmbedding.Clone()
	r.articles[articleID] = a
	return nil
}

func (r *MemoryRepository) ListCompletedArticles(_ context.Context, afterID int64, limit int) ([]domain.Article, error) {
	return r.filter(limit, func(a domain.Article) bool {
		return a.Status == domain.StatusCompleted && a.ID > afterID
	}), nil
}

func (r *MemoryRepository) FailedArticles(_ context.Context, limit int) ([]domain.Article, error) {
	return r.filter(limit, func(a domain.Article) bool {
		return a.Status == domain.StatusFailed && a.Attempts >= r.settings.maxAttempts
	}), nil
}

func (r *MemoryRepository) filter(limit int, keep func(domain.Article) bool) []domain.Article {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Article
	for _, a := range r.articles {
		if keep(a) {
			out = append(out, cloneArticle(a))
		}
	}
	sortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) checkDimension(v domain.Vector) error {
	if r.settings.dimension == 0 || len(v) == r.settings.dimension {
		return nil
	}
	return fmt.Errorf("vector has %d components, want %d: %w", len(v), r.settings.dimension, domain.ErrDimensionMismatch)
}

func sortByID(articles []domain.Article) {
	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })
}

func cloneArticle(a domain.Article) domain.Article {
	a.TitleEmbedding = a.TitleEmbedding.Clone()
	a.SummaryEmbedding = a.SummaryEmbedding.Clone()
	return a
}
