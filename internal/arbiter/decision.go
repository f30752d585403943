package arbiter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"ArticleClusterer/internal/domain"
)

// Stage identifies which step produced a decision.
type Stage int

const (
	StageNumeric    Stage = 1
	StageContextual Stage = 2
)

// Draft describes an event the model asked to create.
type Draft struct {
	Title            string
	Description      string
	EventDescription string
}

// Decision is the tagged result of arbitration: exactly one of Assign, Create, or Ignore.
type Decision struct {
	Action domain.ClusterAction
	Stage  Stage
	// EventID and Score are set for Assign.
	EventID int64
	Score   float64
	// Draft is set for Create.
	Draft Draft
}

// Assign joins an existing event.
func Assign(eventID int64, score float64, stage Stage) Decision {
	return Decision{Action: domain.ActionAssign, Stage: stage, EventID: eventID, Score: score}
}

// Create starts a new event from draft.
func Create(draft Draft) Decision {
	return Decision{Action: domain.ActionCreate, Stage: StageContextual, Score: 1, Draft: draft}
}

// Ignore leaves the article attached to the topic only.
func Ignore() Decision {
	return Decision{Action: domain.ActionIgnore, Stage: StageContextual}
}

func (d Decision) String() string {
	switch d.Action {
	case domain.ActionAssign:
		return fmt.Sprintf("assign(event=%d score=%.3f stage=%d)", d.EventID, d.Score, d.Stage)
	case domain.ActionCreate:
		return fmt.Sprintf("create(%q)", d.Draft.Title)
	default:
		return string(d.Action)
	}
}

// response lists every field any of the three shapes may carry.
type response struct {
	Action           string   `json:"action"`
	EventID          *int64   `json:"event_id"`
	RelevanceScore   *float64 `json:"relevance_score"`
	Title            *string  `json:"title"`
	Description      *string  `json:"description"`
	EventDescription *string  `json:"event_description"`
}

// ParseResponse decodes a contextual-stage reply. Anything that is not exactly
// one valid assign, create, or ignore object fails with domain.ErrArbitration.
// candidates holds the event ids shown to the model.
func ParseResponse(raw string, candidates map[int64]bool, defaultConfidence float64) (Decision, error) {
	body := stripFence(raw)
	if body == "" {
		return Decision{}, fmt.Errorf("empty response: %w", domain.ErrArbitration)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var r response
	if err := dec.Decode(&r); err != nil {
		return Decision{}, fmt.Errorf("decode response: %w: %w", domain.ErrArbitration, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Decision{}, fmt.Errorf("trailing data after response object: %w", domain.ErrArbitration)
	}

	switch domain.ClusterAction(r.Action) {
	case domain.ActionAssign:
		return parseAssign(r, candidates, defaultConfidence)
	case domain.ActionCreate:
		return parseCreate(r)
	case domain.ActionIgnore:
		if r.EventID != nil || r.RelevanceScore != nil || r.Title != nil || r.Description != nil || r.EventDescription != nil {
			return Decision{}, fmt.Errorf("ignore carries extra fields: %w", domain.ErrArbitration)
		}
		return Ignore(), nil
	default:
		return Decision{}, fmt.Errorf("unknown action %q: %w", r.Action, domain.ErrArbitration)
	}
}

func parseAssign(r response, candidates map[int64]bool, defaultConfidence float64) (Decision, error) {
	if r.Title != nil || r.Description != nil || r.EventDescription != nil {
		return Decision{}, fmt.Errorf("assign mixed with create fields: %w", domain.ErrArbitration)
	}
	if r.EventID == nil {
		return Decision{}, fmt.Errorf("assign without event_id: %w", domain.ErrArbitration)
	}
	if !candidates[*r.EventID] {
		return Decision{}, fmt.Errorf("event %d is not a candidate: %w", *r.EventID, domain.ErrArbitration)
	}

	score := defaultConfidence
	if r.RelevanceScore != nil {
		score = *r.RelevanceScore
	}
	if !domain.ValidRelevance(score) {
		return Decision{}, fmt.Errorf("relevance %v outside [0,1]: %w", score, domain.ErrArbitration)
	}

	return Assign(*r.EventID, score, StageContextual), nil
}

func parseCreate(r response) (Decision, error) {
	if r.EventID != nil || r.RelevanceScore != nil {
		return Decision{}, fmt.Errorf("create mixed with assign fields: %w", domain.ErrArbitration)
	}

	draft := Draft{
		Title:       trimmed(r.Title),
		Description: trimmed(r.Description),
	}
	if draft.Title == "" || draft.Description == "" {
		return Decision{}, fmt.Errorf("create requires title and description: %w", domain.ErrArbitration)
	}
	draft.EventDescription = trimmed(r.EventDescription)
	if draft.EventDescription == "" {
		draft.EventDescription = draft.Description
	}

	return Create(draft), nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// stripFence removes a single surrounding markdown code fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// drop a language tag such as ```json
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
