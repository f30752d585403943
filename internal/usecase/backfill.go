package usecase

import (
	"context"
	"fmt"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/similarity"
)

// BackfillReport summarizes a new-topic backfill.
type BackfillReport struct {
	TopicID int64 `json:"topicId"`
	Scanned int   `json:"scanned"`
	Matched int   `json:"matched"`
	Failed  int   `json:"failed"`
}

// ProcessNewTopic matches already completed articles against a topic that was
// added after they were processed, then clusters the matches into its events.
// Articles of other users are skipped. A failing article is logged and counted,
// the scan goes on.
func (p *Pipeline) ProcessNewTopic(ctx context.Context, topicID int64) (BackfillReport, error) {
	snap := p.snapshot()
	report := BackfillReport{TopicID: topicID}
	logger := p.logger.With("topic_id", topicID, "op", "backfill")

	topic, err := p.gateway.GetTopic(ctx, topicID)
	if err != nil {
		return report, fmt.Errorf("load topic %d: %w", topicID, err)
	}
	if !topic.Active {
		return report, fmt.Errorf("topic %d: %w", topicID, ErrTopicInactive)
	}
	topics, err := p.ensureTopicEmbeddings(ctx, []domain.Topic{topic}, logger)
	if err != nil {
		return report, err
	}
	topic = topics[0]

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		page, err := p.gateway.ListCompletedArticles(ctx, afterID, snap.rt.BackfillBatchSize)
		if err != nil {
			return report, fmt.Errorf("list completed articles after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		for _, article := range page {
			afterID = article.ID
			if article.UserID != 0 && article.UserID != topic.UserID {
				continue
			}
			if !article.HasAnalysis() {
				continue
			}
			report.Scanned++

			matched, err := p.backfillArticle(ctx, snap, article, topic)
			if err != nil {
				report.Failed++
				logger.Warn("backfill article failed", "article_id", article.ID, "error", err)
				continue
			}
			if matched {
				report.Matched++
			}
		}

		if len(page) < snap.rt.BackfillBatchSize {
			break
		}
	}

	logger.Info("backfill finished", "scanned", report.Scanned, "matched", report.Matched, "failed", report.Failed)
	return report, nil
}

func (p *Pipeline) backfillArticle(ctx context.Context, snap snapshot, article domain.Article, topic domain.Topic) (bool, error) {
	score, err := similarity.DualScore(article.TitleEmbedding, article.SummaryEmbedding, topic.Embedding)
	if err != nil {
		return false, err
	}
	if score < snap.rt.TopicThreshold {
		return false, nil
	}

	if err := p.gateway.UpsertArticleTopic(ctx, article.ID, topic.ID, score); err != nil {
		return false, fmt.Errorf("associate topic: %w", err)
	}
	p.metrics.RecordTopicMatch()

	outcome, err := snap.arbiter.Resolve(ctx, article, topic)
	if err != nil {
		return false, fmt.Errorf("cluster: %w", err)
	}
	p.recordOutcome(outcome)
	return true, nil
}
