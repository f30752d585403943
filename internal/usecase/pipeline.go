package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ArticleClusterer/internal/arbiter"
	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/metrics"
	"ArticleClusterer/internal/ports"
	"ArticleClusterer/internal/similarity"
	"ArticleClusterer/internal/summary"
)

// Encoder embeds the texts the pipeline matches on.
type Encoder interface {
	EncodeTitle(ctx context.Context, title string) (domain.Vector, error)
	EncodeSummary(ctx context.Context, summary string) (domain.Vector, error)
	EncodeTopic(ctx context.Context, name string) (domain.Vector, error)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Gateway   ports.Gateway
	Summaries *summary.Producer
	Encoder   Encoder
	Arbiter   *arbiter.Arbiter
	Metrics   *metrics.Manager
	Logger    *slog.Logger
}

// Pipeline implements the article clustering workflow.
type Pipeline struct {
	gateway   ports.Gateway
	summaries *summary.Producer
	encoder   Encoder
	arbiter   *arbiter.Arbiter
	metrics   *metrics.Manager
	logger    *slog.Logger

	runtime atomic.Pointer[config.Runtime]
	cycle   sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, runtime config.Runtime) *Pipeline {
	p := &Pipeline{
		gateway:   deps.Gateway,
		summaries: deps.Summaries,
		encoder:   deps.Encoder,
		arbiter:   deps.Arbiter,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	p.UpdateRuntime(runtime)
	return p
}

// UpdateRuntime replaces the reloadable settings. A running cycle keeps the
// snapshot it started with.
func (p *Pipeline) UpdateRuntime(rt config.Runtime) {
	if rt.BatchSize <= 0 {
		rt.BatchSize = 50
	}
	if rt.Workers <= 0 {
		rt.Workers = 1
	}
	if rt.BackfillBatchSize <= 0 {
		rt.BackfillBatchSize = 200
	}
	if rt.TopicThreshold == 0 {
		rt.TopicThreshold = similarity.DefaultTopicThreshold
	}
	p.runtime.Store(&rt)
}

// Runtime returns the settings the next cycle will use.
func (p *Pipeline) Runtime() config.Runtime {
	return *p.runtime.Load()
}

// snapshot binds one Runtime value to the components for the duration of a cycle.
type snapshot struct {
	rt        config.Runtime
	summaries *summary.Producer
	arbiter   *arbiter.Arbiter
}

func (p *Pipeline) snapshot() snapshot {
	rt := p.Runtime()
	return snapshot{
		rt: rt,
		summaries: p.summaries.WithSettings(summary.Settings{
			Prompt:          rt.SummaryPrompt,
			Model:           rt.SummaryModel,
			MaxTokens:       rt.MaxTokens,
			Temperature:     rt.Temperature,
			MaxPromptChars:  rt.MaxPromptChars,
			MaxLength:       rt.SummaryMaxLength,
			MinContentChars: rt.MinContentChars,
			Truncate:        rt.TruncateSummary,
		}),
		arbiter: p.arbiter.WithSettings(arbiter.Settings{
			EventThreshold:    rt.EventThreshold,
			DefaultConfidence: rt.DefaultConfidence,
			Prompt:            rt.ClusterPrompt,
			Model:             rt.AnalysisModel,
			MaxTokens:         rt.MaxTokens,
			Temperature:       rt.Temperature,
			MaxPromptChars:    rt.MaxPromptChars,
		}),
	}
}

// CycleReport summarizes one processing cycle.
type CycleReport struct {
	ID        string        `json:"id"`
	Fetched   int           `json:"fetched"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
	// PermanentlyFailed lists articles that exhausted their attempts.
	PermanentlyFailed []int64 `json:"permanentlyFailed"`
}

// RunCycle fetches a batch of pending articles and processes each of them.
// One article failing never aborts the cycle. Cancellation stops the cycle
// before the next article starts.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	if !p.cycle.TryLock() {
		return CycleReport{}, ErrCycleInProgress
	}
	defer p.cycle.Unlock()

	start := time.Now()
	snap := p.snapshot()
	report := CycleReport{ID: uuid.NewString()}
	logger := p.logger.With("cycle_id", report.ID)

	batch, err := p.gateway.GetPendingArticles(ctx, snap.rt.BatchSize)
	if err != nil {
		p.metrics.RecordCycle("error", 0, time.Since(start))
		return report, fmt.Errorf("fetch pending articles: %w", err)
	}
	report.Fetched = len(batch)
	logger.Info("cycle started", "articles", len(batch), "workers", snap.rt.Workers)

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(snap.rt.Workers)

	for i, article := range batch {
		if ctx.Err() != nil {
			mu.Lock()
			report.Skipped += len(batch) - i
			mu.Unlock()
			report.Cancelled = true
			break
		}
		group.Go(func() error {
			// Go may have waited for a free worker while ctx was cancelled
			var err error
			if err = ctx.Err(); err == nil {
				err = p.process(ctx, snap, article, logger)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Completed++
			case interrupted(ctx, err):
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = group.Wait()

	if ctx.Err() != nil {
		report.Cancelled = true
	}

	if failed, err := p.gateway.FailedArticles(ctx, 0); err != nil {
		logger.Warn("list permanently failed articles", "error", err)
	} else {
		for _, a := range failed {
			report.PermanentlyFailed = append(report.PermanentlyFailed, a.ID)
		}
		p.metrics.SetPermanentlyFailed(len(failed))
	}

	report.Duration = time.Since(start)
	result := "ok"
	if report.Cancelled {
		result = "cancelled"
	}
	p.metrics.RecordCycle(result, report.Fetched, report.Duration)

	logger.Info("cycle finished",
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration,
	)

	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// ProcessArticle runs the full clustering workflow for one article with the
// current settings. The article ends up completed or failed.
func (p *Pipeline) ProcessArticle(ctx context.Context, article domain.Article) error {
	return p.process(ctx, p.snapshot(), article, p.logger)
}

func (p *Pipeline) process(ctx context.Context, snap snapshot, article domain.Article, logger *slog.Logger) error {
	start := time.Now()
	logger = logger.With("article_id", article.ID)

	if err := p.gateway.MarkArticleStatus(ctx, article.ID, domain.StatusProcessing, ""); err != nil {
		logger.Error("claim article", "error", err)
		p.metrics.RecordArticle("failed", time.Since(start))
		return fmt.Errorf("claim article %d: %w", article.ID, err)
	}

	err := p.cluster(ctx, snap, article, logger)
	if err == nil {
		err = p.gateway.MarkArticleStatus(ctx, article.ID, domain.StatusCompleted, "")
	}
	if err == nil {
		p.metrics.RecordArticle("completed", time.Since(start))
		logger.Debug("article completed", "duration", time.Since(start))
		return nil
	}

	outcome := "failed"
	if interrupted(ctx, err) {
		outcome = "interrupted"
	}
	p.metrics.RecordArticle(outcome, time.Since(start))
	p.release(ctx, article.ID, err, logger)
	return err
}

// interrupted reports whether err comes from ctx being cancelled rather than
// from the article itself.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// release records a failure. An article interrupted by shutdown goes back to
// pending without spending an attempt.
func (p *Pipeline) release(ctx context.Context, articleID int64, cause error, logger *slog.Logger) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	status, msg := domain.StatusFailed, cause.Error()
	if interrupted(ctx, cause) {
		status, msg = domain.StatusPending, ""
		logger.Info("article interrupted", "error", cause)
	} else {
		logger.Warn("article failed", "error", cause)
	}

	if err := p.gateway.MarkArticleStatus(markCtx, articleID, status, msg); err != nil {
		logger.Error("record article failure", "error", err)
	}
}

func (p *Pipeline) cluster(ctx context.Context, snap snapshot, article domain.Article, logger *slog.Logger) error {
	article, err := p.analyze(ctx, snap, article)
	if err != nil {
		return err
	}

	topics, err := p.gateway.ListActiveTopics(ctx, article.UserID)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	topics, err = p.ensureTopicEmbeddings(ctx, topics, logger)
	if err != nil {
		return err
	}

	matches, err := similarity.RankTopics(
		article.TitleEmbedding,
		article.SummaryEmbedding,
		similarity.TopicCandidates(topics),
		snap.rt.TopicThreshold,
	)
	if err != nil {
		return fmt.Errorf("rank topics: %w", err)
	}
	if len(matches) == 0 {
		logger.Debug("no topic matched")
		return nil
	}

	byID := make(map[int64]domain.Topic, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.gateway.UpsertArticleTopic(ctx, article.ID, m.ID, m.Score); err != nil {
			return fmt.Errorf("associate topic %d: %w", m.ID, err)
		}
		p.metrics.RecordTopicMatch()

		outcome, err := snap.arbiter.Resolve(ctx, article, byID[m.ID])
		if err != nil {
			return fmt.Errorf("cluster under topic %d: %w", m.ID, err)
		}
		p.recordOutcome(outcome)
		logger.Info("article clustered",
			"topic_id", m.ID,
			"topic_score", m.Score,
			"decision", outcome.Decision.String(),
			"event_id", outcome.EventID,
			"reused", outcome.Reused,
		)
	}
	return nil
}

// analyze fills the summary and embeddings, reusing what a previous attempt stored.
func (p *Pipeline) analyze(ctx context.Context, snap snapshot, article domain.Article) (domain.Article, error) {
	if article.HasAnalysis() {
		return article, nil
	}

	text, err := snap.summaries.Summarize(ctx, article)
	if err != nil {
		return article, err
	}

	var titleVec, summaryVec domain.Vector
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := p.encoder.EncodeTitle(gctx, article.Title)
		titleVec = v
		return err
	})
	g.Go(func() error {
		v, err := p.encoder.EncodeSummary(gctx, text)
		summaryVec = v
		return err
	})
	if err := g.Wait(); err != nil {
		return article, err
	}

	analysis := domain.ArticleAnalysis{Summary: text, TitleEmbedding: titleVec, SummaryEmbedding: summaryVec}
	if err := p.gateway.SaveArticleAnalysis(ctx, article.ID, analysis); err != nil {
		return article, fmt.Errorf("save analysis: %w", err)
	}

	article.Summary = text
	article.TitleEmbedding = titleVec
	article.SummaryEmbedding = summaryVec
	return article, nil
}

// ensureTopicEmbeddings encodes and stores the name of every topic that has no embedding yet.
func (p *Pipeline) ensureTopicEmbeddings(ctx context.Context, topics []domain.Topic, logger *slog.Logger) ([]domain.Topic, error) {
	for i := range topics {
		if len(topics[i].Embedding) > 0 {
			continue
		}
		vec, err := p.encoder.EncodeTopic(ctx, topics[i].Name)
		if err != nil {
			return nil, fmt.Errorf("embed topic %d: %w", topics[i].ID, err)
		}
		if err := p.gateway.SaveTopicEmbedding(ctx, topics[i].ID, vec); err != nil {
			return nil, fmt.Errorf("store topic %d embedding: %w", topics[i].ID, err)
		}
		topics[i].Embedding = vec
		logger.Info("topic embedded", "topic_id", topics[i].ID)
	}
	return topics, nil
}

func (p *Pipeline) recordOutcome(o arbiter.Outcome) {
	stage := "replay"
	if !o.Reused {
		stage = strconv.Itoa(int(o.Decision.Stage))
	}
	p.metrics.RecordDecision(string(o.Decision.Action), stage, o.Created)
}
