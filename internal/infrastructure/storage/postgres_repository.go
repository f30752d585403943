package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

//go:embed schema.sql
var schema string

// PostgresRepository persists topics, events, articles and their links into Postgres with pgvector.
type PostgresRepository struct {
	db       *sql.DB
	settings settings
	psql     sq.StatementBuilderType
}

var _ ports.Gateway = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB, opts ...Option) *PostgresRepository {
	return &PostgresRepository{
		db:       db,
		settings: newSettings(opts),
		psql:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Migrate creates missing tables and indexes.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (r *PostgresRepository) ListActiveTopics(ctx context.Context, userID int64) ([]domain.Topic, error) {
	query := r.psql.Select("id", "user_id", "name", "embedding", "is_active").
		From("topics").
		Where(sq.Eq{"is_active": true}).
		OrderBy("id")
	if userID != 0 {
		query = query.Where(sq.Eq{"user_id": userID})
	}

	var topics []domain.Topic
	err := r.query(ctx, query, func(rows *sql.Rows) error {
		t, err := scanTopic(rows)
		if err != nil {
			return err
		}
		topics = append(topics, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

func (r *PostgresRepository) GetTopic(ctx context.Context, topicID int64) (domain.Topic, error) {
	query, args, err := r.psql.Select("id", "user_id", "name", "embedding", "is_active").
		From("topics").
		Where(sq.Eq{"id": topicID}).
		ToSql()
	if err != nil {
		return domain.Topic{}, fmt.Errorf("build topic query: %w", err)
	}

	t, err := scanTopic(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Topic{}, fmt.Errorf("topic %d: %w", topicID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Topic{}, fmt.Errorf("get topic %d: %w", topicID, err)
	}
	return t, nil
}

func (r *PostgresRepository) SaveTopicEmbedding(ctx context.Context, topicID int64, embedding domain.Vector) error {
	if err := r.checkDimension(embedding); err != nil {
		return fmt.Errorf("save topic %d embedding: %w", topicID, err)
	}
	query := r.psql.Update("topics").
		Set("embedding", vectorValue(embedding)).
		Where(sq.Eq{"id": topicID})
	return r.execOne(ctx, query, fmt.Sprintf("topic %d", topicID))
}

func (r *PostgresRepository) ListEvents(ctx context.Context, topicID int64) ([]domain.Event, error) {
	query := r.psql.Select("id", "user_id", "topic_id", "title", "description", "event_description", "embedding", "last_updated_at").
		From("events").
		Where(sq.Eq{"topic_id": topicID}).
		OrderBy("id")

	var events []domain.Event
	err := r.query(ctx, query, func(rows *sql.Rows) error {
		var (
			e   domain.Event
			vec nullVector
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TopicID, &e.Title, &e.Description, &e.EventDescription, &vec, &e.LastUpdatedAt); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		e.Embedding = vec.v
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events of topic %d: %w", topicID, err)
	}
	return events, nil
}

func (r *PostgresRepository) CreateEvent(ctx context.Context, event domain.NewEvent) (int64, error) {
	if err := r.checkDimension(event.Embedding); err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}

	query, args, err := r.psql.Insert("events").
		Columns("user_id", "topic_id", "title", "description", "event_description", "embedding").
		Values(event.UserID, event.TopicID, event.Title, event.Description, event.EventDescription, vectorValue(event.Embedding)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build event insert: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("create event: topic %d: %w", event.TopicID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("create event: %w: %w", domain.ErrPersistence, err)
	}
	return id, nil
}

func (r *PostgresRepository) TouchEvent(ctx context.Context, eventID int64) error {
	query := r.psql.Update("events").
		Set("last_updated_at", r.settings.now()).
		Where(sq.Eq{"id": eventID})
	return r.execOne(ctx, query, fmt.Sprintf("event %d", eventID))
}

// UpsertArticleTopic links article and topic. An existing link is left as is.
func (r *PostgresRepository) UpsertArticleTopic(ctx context.Context, articleID, topicID int64, score float64) error {
	if !domain.ValidRelevance(score) {
		return fmt.Errorf("article %d topic %d relevance %v: %w", articleID, topicID, score, domain.ErrPersistence)
	}

	query := `INSERT INTO article_topics (article_id, topic_id, relevance_score)
              VALUES ($1, $2, $3)
              ON CONFLICT (article_id, topic_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, articleID, topicID, score); err != nil {
		return fmt.Errorf("upsert article %d topic %d: %w: %w", articleID, topicID, domain.ErrPersistence, err)
	}
	return nil
}

// UpsertArticleEvent writes the link only when the article is already linked to the event's topic.
// An existing link keeps its score; the no-op update still counts the row so a
// missing topic link stays distinguishable from a repeat.
func (r *PostgresRepository) UpsertArticleEvent(ctx context.Context, articleID, eventID int64, score float64) error {
	if !domain.ValidRelevance(score) {
		return fmt.Errorf("article %d event %d relevance %v: %w", articleID, eventID, score, domain.ErrPersistence)
	}

	query := `INSERT INTO article_events (article_id, event_id, relevance_score)
              SELECT at.article_id, e.id, $3
              FROM events e
              JOIN article_topics at ON at.topic_id = e.topic_id AND at.article_id = $1
              WHERE e.id = $2
              ON CONFLICT (article_id, event_id) DO UPDATE
              SET relevance_score = article_events.relevance_score`

	res, err := r.db.ExecContext(ctx, query, articleID, eventID, score)
	if err != nil {
		return fmt.Errorf("upsert article %d event %d: %w: %w", articleID, eventID, domain.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert article %d event %d: %w: %w", articleID, eventID, domain.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("article %d is not linked to the topic of event %d: %w", articleID, eventID, domain.ErrPersistence)
	}
	return nil
}

func (r *PostgresRepository) EventDecision(ctx context.Context, articleID, topicID int64) (domain.EventDecision, bool, error) {
	query, args, err := r.psql.Select("action", "event_id", "relevance_score").
		From("event_decisions").
		Where(sq.Eq{"article_id": articleID, "topic_id": topicID}).
		ToSql()
	if err != nil {
		return domain.EventDecision{}, false, fmt.Errorf("build decision query: %w", err)
	}

	d := domain.EventDecision{ArticleID: articleID, TopicID: topicID}
	var (
		action  string
		eventID sql.NullInt64
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&action, &eventID, &d.RelevanceScore)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventDecision{}, false, nil
	}
	if err != nil {
		return domain.EventDecision{}, false, fmt.Errorf("get decision %d/%d: %w: %w", articleID, topicID, domain.ErrPersistence, err)
	}
	d.Action = domain.ClusterAction(action)
	d.EventID = eventID.Int64
	return d, true, nil
}

func (r *PostgresRepository) RecordEventDecision(ctx context.Context, decision domain.EventDecision) error {
	var eventID sql.NullInt64
	if decision.EventID != 0 {
		eventID = sql.NullInt64{Int64: decision.EventID, Valid: true}
	}

	query := `INSERT INTO event_decisions (article_id, topic_id, action, event_id, relevance_score)
              VALUES ($1, $2, $3, $4, $5)
              ON CONFLICT (article_id, topic_id) DO UPDATE
              SET action = EXCLUDED.action,
                  event_id = EXCLUDED.event_id,
                  relevance_score = EXCLUDED.relevance_score,
                  decided_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		decision.ArticleID,
		decision.TopicID,
		string(decision.Action),
		eventID,
		decision.RelevanceScore,
	)
	if err != nil {
		return fmt.Errorf("record decision %d/%d: %w: %w", decision.ArticleID, decision.TopicID, domain.ErrPersistence, err)
	}
	return nil
}

// GetPendingArticles returns pending articles, stale processing claims and retryable failures.
func (r *PostgresRepository) GetPendingArticles(ctx context.Context, limit int) ([]domain.Article, error) {
	staleBefore := r.settings.now().Add(-r.settings.staleAfter)
	return r.articles(ctx, limit, sq.Or{
		sq.Eq{"status": string(domain.StatusPending)},
		sq.And{sq.Eq{"status": string(domain.StatusProcessing)}, sq.LtOrEq{"updated_at": staleBefore}},
		sq.And{sq.Eq{"status": string(domain.StatusFailed)}, sq.Lt{"attempts": r.settings.maxAttempts}},
	})
}

func (r *PostgresRepository) MarkArticleStatus(ctx context.Context, articleID int64, status domain.ProcessingStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("article %d status %q: %w", articleID, status, domain.ErrPersistence)
	}

	query := r.psql.Update("articles").
		Set("status", string(status)).
		Set("updated_at", r.settings.now()).
		Where(sq.Eq{"id": articleID})
	switch status {
	case domain.StatusFailed:
		query = query.Set("attempts", sq.Expr("attempts + 1")).Set("last_error", errMsg)
	case domain.StatusCompleted:
		query = query.Set("last_error", "")
	}
	return r.execOne(ctx, query, fmt.Sprintf("article %d", articleID))
}

func (r *PostgresRepository) SaveArticleAnalysis(ctx context.Context, articleID int64, analysis domain.ArticleAnalysis) error {
	for _, v := range []domain.Vector{analysis.TitleEmbedding, analysis.SummaryEmbedding} {
		if err := r.checkDimension(v); err != nil {
			return fmt.Errorf("save article %d analysis: %w", articleID, err)
		}
	}

	query := r.psql.Update("articles").
		Set("summary", analysis.Summary).
		Set("title_embedding", vectorValue(analysis.TitleEmbedding)).
		Set("summary_embedding", vectorValue(analysis.SummaryEmbedding)).
		Where(sq.Eq{"id": articleID})
	return r.execOne(ctx, query, fmt.Sprintf("article %d", articleID))
}

func (r *PostgresRepository) ListCompletedArticles(ctx context.Context, afterID int64, limit int) ([]domain.Article, error) {
	return r.articles(ctx, limit, sq.And{
		sq.Eq{"status": string(domain.StatusCompleted)},
		sq.Gt{"id": afterID},
	})
}

func (r *PostgresRepository) FailedArticles(ctx context.Context, limit int) ([]domain.Article, error) {
	return r.articles(ctx, limit, sq.And{
		sq.Eq{"status": string(domain.StatusFailed)},
		sq.GtOrEq{"attempts": r.settings.maxAttempts},
	})
}

func (r *PostgresRepository) articles(ctx context.Context, limit int, where sq.Sqlizer) ([]domain.Article, error) {
	query := r.psql.Select("id", "user_id", "title", "content", "summary", "title_embedding", "summary_embedding",
		"status", "attempts", "last_error", "updated_at").
		From("articles").
		Where(where).
		OrderBy("id")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	var out []domain.Article
	err := r.query(ctx, query, func(rows *sql.Rows) error {
		var (
			a             domain.Article
			status        string
			title, sumVec nullVector
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Title, &a.Content, &a.Summary, &title, &sumVec,
			&status, &a.Attempts, &a.LastError, &a.UpdatedAt); err != nil {
			return fmt.Errorf("scan article: %w", err)
		}
		a.Status = domain.ProcessingStatus(status)
		a.TitleEmbedding = title.v
		a.SummaryEmbedding = sumVec.v
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) query(ctx context.Context, builder sq.SelectBuilder, scan func(*sql.Rows) error) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w: %w", domain.ErrPersistence, err)
	}

	for rows.Next() {
		if err := scan(rows); err != nil {
			_ = rows.Close()
			return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return fmt.Errorf("rows iteration: %w: %w", domain.ErrPersistence, rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return fmt.Errorf("close rows: %w: %w", domain.ErrPersistence, closeErr)
	}
	return nil
}

// execOne runs an update and reports ErrNotFound when no row matched.
func (r *PostgresRepository) execOne(ctx context.Context, builder sq.UpdateBuilder, what string) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build update for %s: %w", what, err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w: %w", what, domain.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w: %w", what, domain.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) checkDimension(v domain.Vector) error {
	if r.settings.dimension == 0 || len(v) == r.settings.dimension {
		return nil
	}
	return fmt.Errorf("vector has %d components, want %d: %w", len(v), r.settings.dimension, domain.ErrDimensionMismatch)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (domain.Topic, error) {
	var (
		t   domain.Topic
		vec nullVector
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &vec, &t.Active); err != nil {
		return domain.Topic{}, err
	}
	t.Embedding = vec.v
	return t, nil
}

// vectorValue maps an empty vector to SQL NULL.
func vectorValue(v domain.Vector) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// nullVector scans a nullable pgvector column.
type nullVector struct {
	v domain.Vector
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.v = nil
		return nil
	}
	var vec pgvector.Vector
	if err := vec.Scan(src); err != nil {
		return err
	}
	n.v = vec.Slice()
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
