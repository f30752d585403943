// Package arbiter decides which event cluster an article joins under a matched topic.
//
// Decide is free of persistence side effects: it runs the numeric match and,
// when that misses, asks the analysis model. Apply performs the writes the
// decision implies. Resolve combines both and reuses a previously recorded
// decision for the same (article, topic) pair so reprocessing stays idempotent.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
	"ArticleClusterer/internal/similarity"
)

const (
	// DefaultConfidence is the relevance stored when the model assigns without a score.
	DefaultConfidence     = 0.8
	DefaultMaxPromptChars = 30000
)

// EventEncoder embeds new event descriptions.
type EventEncoder interface {
	EncodeEvent(ctx context.Context, description string) (domain.Vector, error)
}

// Settings tune arbitration. They can change between cycles.
type Settings struct {
	EventThreshold    float64
	DefaultConfidence float64
	Prompt            string
	Model             string
	MaxTokens         int
	Temperature       float64
	MaxPromptChars    int
}

func (s Settings) withDefaults() Settings {
	if s.EventThreshold == 0 {
		s.EventThreshold = similarity.DefaultEventThreshold
	}
	if s.DefaultConfidence == 0 {
		s.DefaultConfidence = DefaultConfidence
	}
	if strings.TrimSpace(s.Prompt) == "" {
		s.Prompt = DefaultPrompt
	}
	if s.MaxPromptChars <= 0 {
		s.MaxPromptChars = DefaultMaxPromptChars
	}
	return s
}

// Deps are the collaborators of an Arbiter.
type Deps struct {
	Events       ports.EventRepository
	Associations ports.AssociationRepository
	Generator    ports.TextGenerator
	Encoder      EventEncoder
	Logger       *slog.Logger
}

// Arbiter runs the two-stage event decision.
type Arbiter struct {
	events       ports.EventRepository
	associations ports.AssociationRepository
	generator    ports.TextGenerator
	encoder      EventEncoder
	logger       *slog.Logger
	settings     Settings
	locks        *topicLocks
}

// New constructs an Arbiter.
func New(deps Deps, settings Settings) *Arbiter {
	return &Arbiter{
		events:       deps.Events,
		associations: deps.Associations,
		generator:    deps.Generator,
		encoder:      deps.Encoder,
		logger:       deps.Logger,
		settings:     settings.withDefaults(),
		locks:        newTopicLocks(),
	}
}

// WithSettings returns an Arbiter using settings that shares the per-topic locks of a.
func (a *Arbiter) WithSettings(settings Settings) *Arbiter {
	cp := *a
	cp.settings = settings.withDefaults()
	return &cp
}

// Input is one article/topic pair plus the topic's events at decision time.
// The article must carry its summary and embeddings.
type Input struct {
	Article domain.Article
	Topic   domain.Topic
	Events  []domain.Event
}

// Outcome reports what Apply or Resolve did.
type Outcome struct {
	Decision Decision
	// EventID is the event the article joined; zero for Ignore.
	EventID int64
	// Created is set when a new event row was written.
	Created bool
	// Merged is set when a Create turned into an Assign because a matching
	// event appeared under the topic after the decision was taken.
	Merged bool
	// Reused is set when a recorded decision was replayed.
	Reused bool
}

// Decide runs the numeric stage and, when it misses, the contextual stage.
func (a *Arbiter) Decide(ctx context.Context, in Input) (Decision, error) {
	match, ok, err := similarity.BestEvent(
		in.Article.TitleEmbedding,
		in.Article.SummaryEmbedding,
		similarity.EventCandidates(in.Events),
		a.settings.EventThreshold,
	)
	if err != nil {
		return Decision{}, fmt.Errorf("numeric match topic %d: %w", in.Topic.ID, err)
	}
	if ok {
		return Assign(match.ID, 1.0, StageNumeric), nil
	}

	return a.consult(ctx, in)
}

func (a *Arbiter) consult(ctx context.Context, in Input) (Decision, error) {
	if a.generator == nil {
		return Decision{}, fmt.Errorf("topic %d: no analysis model: %w", in.Topic.ID, domain.ErrArbitration)
	}

	prompt, shown, err := FitPrompt(a.settings.Prompt, in.Article, in.Topic, in.Events, a.settings.MaxPromptChars)
	if err != nil {
		return Decision{}, fmt.Errorf("topic %d: %w", in.Topic.ID, err)
	}
	if len(shown) < len(in.Events) {
		a.debug("older events left out of the prompt", "topic_id", in.Topic.ID, "shown", len(shown), "events", len(in.Events))
	}

	raw, err := a.generator.Complete(ctx, ports.Completion{
		Prompt:      prompt,
		Model:       a.settings.Model,
		MaxTokens:   a.settings.MaxTokens,
		Temperature: a.settings.Temperature,
		JSON:        true,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("consult model topic %d: %w: %w", in.Topic.ID, domain.ErrArbitration, err)
	}

	candidates := make(map[int64]bool, len(shown))
	for _, e := range shown {
		candidates[e.ID] = true
	}

	decision, err := ParseResponse(raw, candidates, a.settings.DefaultConfidence)
	if err != nil {
		a.debug("unusable model response", "topic_id", in.Topic.ID, "article_id", in.Article.ID, "response", raw)
		return Decision{}, fmt.Errorf("topic %d: %w", in.Topic.ID, err)
	}
	return decision, nil
}

// Apply writes the associations and events implied by decision.
func (a *Arbiter) Apply(ctx context.Context, in Input, decision Decision) (Outcome, error) {
	switch decision.Action {
	case domain.ActionAssign:
		return a.applyAssign(ctx, in, decision)
	case domain.ActionCreate:
		return a.applyCreate(ctx, in, decision)
	case domain.ActionIgnore:
		if err := a.record(ctx, in, domain.ActionIgnore, 0, 0); err != nil {
			return Outcome{}, err
		}
		return Outcome{Decision: decision}, nil
	default:
		return Outcome{}, fmt.Errorf("apply unknown action %q: %w", decision.Action, domain.ErrArbitration)
	}
}

func (a *Arbiter) applyAssign(ctx context.Context, in Input, decision Decision) (Outcome, error) {
	if !domain.ValidRelevance(decision.Score) {
		return Outcome{}, fmt.Errorf("assign score %v outside [0,1]: %w", decision.Score, domain.ErrArbitration)
	}
	if err := a.join(ctx, in.Article.ID, decision.EventID, decision.Score); err != nil {
		return Outcome{}, err
	}
	if err := a.record(ctx, in, domain.ActionAssign, decision.EventID, decision.Score); err != nil {
		return Outcome{}, err
	}
	return Outcome{Decision: decision, EventID: decision.EventID}, nil
}

func (a *Arbiter) applyCreate(ctx context.Context, in Input, decision Decision) (Outcome, error) {
	draft := decision.Draft
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Description) == "" {
		return Outcome{}, fmt.Errorf("create without title or description: %w", domain.ErrArbitration)
	}
	if draft.EventDescription == "" {
		draft.EventDescription = draft.Description
	}
	if a.encoder == nil {
		return Outcome{}, fmt.Errorf("create event: no encoder: %w", domain.ErrEncoding)
	}

	// provider call stays outside the topic lock
	embedding, err := a.encoder.EncodeEvent(ctx, draft.EventDescription)
	if err != nil {
		return Outcome{}, fmt.Errorf("embed new event: %w", err)
	}

	unlock := a.locks.lock(in.Topic.ID)
	defer unlock()

	current, err := a.events.ListEvents(ctx, in.Topic.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("relist events topic %d: %w", in.Topic.ID, err)
	}

	if dup, ok, err := a.duplicateOf(in, current, embedding); err != nil {
		return Outcome{}, err
	} else if ok {
		a.debug("new event matches one created meanwhile", "topic_id", in.Topic.ID, "event_id", dup)
		if err := a.join(ctx, in.Article.ID, dup, 1.0); err != nil {
			return Outcome{}, err
		}
		if err := a.record(ctx, in, domain.ActionAssign, dup, 1.0); err != nil {
			return Outcome{}, err
		}
		return Outcome{Decision: decision, EventID: dup, Merged: true}, nil
	}

	eventID, err := a.events.CreateEvent(ctx, domain.NewEvent{
		UserID:           in.Topic.UserID,
		TopicID:          in.Topic.ID,
		Title:            draft.Title,
		Description:      draft.Description,
		EventDescription: draft.EventDescription,
		Embedding:        embedding,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create event topic %d: %w", in.Topic.ID, err)
	}

	// recorded before linking so a retry replays the link instead of creating again
	if err := a.record(ctx, in, domain.ActionCreate, eventID, 1.0); err != nil {
		return Outcome{}, err
	}
	if err := a.associations.UpsertArticleEvent(ctx, in.Article.ID, eventID, 1.0); err != nil {
		return Outcome{}, fmt.Errorf("link article %d to new event %d: %w", in.Article.ID, eventID, err)
	}

	if a.logger != nil {
		a.logger.Info("event created", "topic_id", in.Topic.ID, "event_id", eventID, "title", draft.Title)
	}
	return Outcome{Decision: decision, EventID: eventID, Created: true}, nil
}

// duplicateOf looks for an event that appeared after the decision snapshot and
// matches either the article or the new event's embedding.
func (a *Arbiter) duplicateOf(in Input, current []domain.Event, embedding domain.Vector) (int64, bool, error) {
	known := make(map[int64]bool, len(in.Events))
	for _, e := range in.Events {
		known[e.ID] = true
	}
	var fresh []domain.Event
	for _, e := range current {
		if !known[e.ID] {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return 0, false, nil
	}

	candidates := similarity.EventCandidates(fresh)
	threshold := a.settings.EventThreshold

	m, ok, err := similarity.BestEvent(in.Article.TitleEmbedding, in.Article.SummaryEmbedding, candidates, threshold)
	if err != nil {
		return 0, false, fmt.Errorf("recheck article against new events: %w", err)
	}
	if ok {
		return m.ID, true, nil
	}

	m, ok, err = similarity.BestEvent(embedding, nil, candidates, threshold)
	if err != nil {
		return 0, false, fmt.Errorf("recheck draft against new events: %w", err)
	}
	return m.ID, ok, nil
}

// Resolve replays a recorded decision for the pair or decides and applies a new one.
func (a *Arbiter) Resolve(ctx context.Context, article domain.Article, topic domain.Topic) (Outcome, error) {
	prior, found, err := a.associations.EventDecision(ctx, article.ID, topic.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load decision article %d topic %d: %w", article.ID, topic.ID, err)
	}
	if found && replayable(prior) {
		return a.replay(ctx, prior)
	}
	if found {
		a.debug("recorded event no longer exists, deciding again", "article_id", article.ID, "topic_id", topic.ID)
	}

	events, err := a.events.ListEvents(ctx, topic.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list events topic %d: %w", topic.ID, err)
	}

	in := Input{Article: article, Topic: topic, Events: events}
	decision, err := a.Decide(ctx, in)
	if err != nil {
		return Outcome{}, err
	}
	a.debug("decision taken", "article_id", article.ID, "topic_id", topic.ID, "decision", decision.String())

	return a.Apply(ctx, in, decision)
}

// replayable reports whether prior still points at something to link to.
// An assign or create whose event was deleted has no event id left.
func replayable(prior domain.EventDecision) bool {
	return prior.Action == domain.ActionIgnore || prior.EventID != 0
}

func (a *Arbiter) replay(ctx context.Context, prior domain.EventDecision) (Outcome, error) {
	out := Outcome{Reused: true, EventID: prior.EventID}
	switch prior.Action {
	case domain.ActionIgnore:
		out.Decision = Ignore()
		return out, nil
	case domain.ActionAssign, domain.ActionCreate:
		out.Decision = Decision{Action: prior.Action, EventID: prior.EventID, Score: prior.RelevanceScore}
		if err := a.associations.UpsertArticleEvent(ctx, prior.ArticleID, prior.EventID, prior.RelevanceScore); err != nil {
			return Outcome{}, fmt.Errorf("replay link article %d event %d: %w", prior.ArticleID, prior.EventID, err)
		}
		return out, nil
	default:
		return Outcome{}, fmt.Errorf("recorded action %q: %w", prior.Action, domain.ErrArbitration)
	}
}

func (a *Arbiter) join(ctx context.Context, articleID, eventID int64, score float64) error {
	if err := a.associations.UpsertArticleEvent(ctx, articleID, eventID, score); err != nil {
		return fmt.Errorf("link article %d to event %d: %w", articleID, eventID, err)
	}
	if err := a.events.TouchEvent(ctx, eventID); err != nil {
		return fmt.Errorf("touch event %d: %w", eventID, err)
	}
	return nil
}

func (a *Arbiter) record(ctx context.Context, in Input, action domain.ClusterAction, eventID int64, score float64) error {
	err := a.associations.RecordEventDecision(ctx, domain.EventDecision{
		ArticleID:      in.Article.ID,
		TopicID:        in.Topic.ID,
		Action:         action,
		EventID:        eventID,
		RelevanceScore: score,
	})
	if err != nil {
		return fmt.Errorf("record decision article %d topic %d: %w", in.Article.ID, in.Topic.ID, err)
	}
	return nil
}

func (a *Arbiter) debug(msg string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Debug(msg, args...)
}
