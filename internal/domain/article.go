package domain

import "time"

// Article is an ingested feed item waiting for (or done with) clustering.
// UserID scopes topic matching; zero means every user's active topics.
type Article struct {
	ID               int64
	UserID           int64
	Title            string
	Content          string
	Summary          string
	TitleEmbedding   Vector
	SummaryEmbedding Vector
	Status           ProcessingStatus
	Attempts         int
	LastError        string
	UpdatedAt        time.Time
}

// HasAnalysis reports whether a previous attempt already stored the summary and both embeddings.
func (a Article) HasAnalysis() bool {
	return a.Summary != "" && len(a.TitleEmbedding) > 0 && len(a.SummaryEmbedding) > 0
}

// ProcessingStatus enumerates pipeline milestones of an article.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ArticleAnalysis is what the pipeline derives from an article before matching.
type ArticleAnalysis struct {
	Summary          string
	TitleEmbedding   Vector
	SummaryEmbedding Vector
}

// ArticleTopic links an article to a topic it matched.
type ArticleTopic struct {
	ArticleID      int64
	TopicID        int64
	RelevanceScore float64
}

// ArticleEvent links an article to the event cluster it joined.
type ArticleEvent struct {
	ArticleID      int64
	EventID        int64
	RelevanceScore float64
}
