package domain

import "time"

// Event is a cluster of articles describing the same underlying story.
// It belongs to exactly one topic and is never moved to another.
type Event struct {
	ID               int64
	UserID           int64
	TopicID          int64
	Title            string
	Description      string
	EventDescription string
	Embedding        Vector
	LastUpdatedAt    time.Time
}

// NewEvent carries the fields required to create an Event row.
type NewEvent struct {
	UserID           int64
	TopicID          int64
	Title            string
	Description      string
	EventDescription string
	Embedding        Vector
}

// ClusterAction is the outcome kind of an event-membership decision.
type ClusterAction string

const (
	ActionAssign ClusterAction = "assign"
	ActionCreate ClusterAction = "create"
	ActionIgnore ClusterAction = "ignore"
)

// EventDecision is the durable record of how an article was clustered under a topic.
// EventID is zero for ActionIgnore.
type EventDecision struct {
	ArticleID      int64
	TopicID        int64
	Action         ClusterAction
	EventID        int64
	RelevanceScore float64
}
