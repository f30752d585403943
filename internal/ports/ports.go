package ports

import (
	"context"
	"time"

	"ArticleClusterer/internal/domain"
)

// TopicRepository reads user topics and stores their embeddings.
type TopicRepository interface {
	// ListActiveTopics returns active topics of userID, or of every user when userID is zero.
	ListActiveTopics(ctx context.Context, userID int64) ([]domain.Topic, error)
	GetTopic(ctx context.Context, topicID int64) (domain.Topic, error)
	SaveTopicEmbedding(ctx context.Context, topicID int64, embedding domain.Vector) error
}

// EventRepository stores event clusters scoped to a topic.
type EventRepository interface {
	ListEvents(ctx context.Context, topicID int64) ([]domain.Event, error)
	CreateEvent(ctx context.Context, event domain.NewEvent) (int64, error)
	// TouchEvent advances last_updated_at after an article joins the event.
	TouchEvent(ctx context.Context, eventID int64) error
}

// AssociationRepository persists article links and clustering decisions.
// Upserts keep at most one row per (article, topic) and (article, event) pair
// and never rewrite the score of an existing row.
type AssociationRepository interface {
	UpsertArticleTopic(ctx context.Context, articleID, topicID int64, score float64) error
	UpsertArticleEvent(ctx context.Context, articleID, eventID int64, score float64) error
	// EventDecision returns the recorded decision for the pair; found is false when none exists.
	EventDecision(ctx context.Context, articleID, topicID int64) (decision domain.EventDecision, found bool, err error)
	RecordEventDecision(ctx context.Context, decision domain.EventDecision) error
}

// ArticleRepository claims articles for processing and stores their progress.
type ArticleRepository interface {
	// GetPendingArticles returns pending, stale processing, and retryable failed articles, oldest first.
	GetPendingArticles(ctx context.Context, limit int) ([]domain.Article, error)
	// MarkArticleStatus updates the status; StatusFailed increments the attempt counter.
	MarkArticleStatus(ctx context.Context, articleID int64, status domain.ProcessingStatus, errMsg string) error
	SaveArticleAnalysis(ctx context.Context, articleID int64, analysis domain.ArticleAnalysis) error
	// ListCompletedArticles pages through completed articles with id greater than afterID.
	ListCompletedArticles(ctx context.Context, afterID int64, limit int) ([]domain.Article, error)
	// FailedArticles lists articles that exhausted their attempts.
	FailedArticles(ctx context.Context, limit int) ([]domain.Article, error)
}

// Gateway is the full persistence surface used by the pipeline.
type Gateway interface {
	TopicRepository
	EventRepository
	AssociationRepository
	ArticleRepository
}

// Completion is a single text-generation request.
type Completion struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	// JSON asks the backend for a JSON object response when it supports it.
	JSON bool
}

// TextGenerator completes prompts with a language model.
type TextGenerator interface {
	Complete(ctx context.Context, req Completion) (string, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Notifier forwards operator-facing messages to Telegram or other channels.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Scheduler controls when pipeline cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
