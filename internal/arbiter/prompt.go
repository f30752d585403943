package arbiter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"ArticleClusterer/internal/domain"
)

// DefaultPrompt is used when no cluster_detection prompt is configured.
// Placeholders: {user_id}, {topic_id}, {topic_name}, {existing_events},
// {article_title}, {article_summary}.
const DefaultPrompt = `You are an event clustering assistant for news analysis.

Decide whether the new article belongs to one of the existing event clusters of the topic,
starts a new event, or is not event-worthy at all.
Treat articles as the same event when they cover the same underlying story, incident, or development,
even if written from different perspectives or at different times.

Respond with exactly one JSON object and nothing else:
Existing event: {"action": "assign", "event_id": <event_id>, "relevance_score": <0.0-1.0>}
New event: {"action": "create", "title": "<event title>", "description": "<event description>"}
Not event-worthy: {"action": "ignore"}

User ID: {user_id}
Topic ID: {topic_id}
Topic Name: {topic_name}

Existing Event Clusters:
{existing_events}

New Article:
Title: {article_title}
Summary: {article_summary}

Decision:`

const noEvents = "No existing event clusters for this topic."

// EventDigest lists events the way the prompt presents them to the model.
func EventDigest(events []domain.Event) string {
	if len(events) == 0 {
		return noEvents
	}

	entries := make([]string, len(events))
	for i, e := range events {
		entries[i] = digestEntry(e)
	}
	return strings.Join(entries, "\n")
}

func digestEntry(e domain.Event) string {
	return "Event ID " + strconv.FormatInt(e.ID, 10) + ": " + e.Title + "\n  Description: " + e.Description
}

// RenderPrompt fills every placeholder of template for one article/topic pair.
func RenderPrompt(template string, article domain.Article, topic domain.Topic, events []domain.Event) string {
	return render(template, article, topic, EventDigest(events))
}

func render(template string, article domain.Article, topic domain.Topic, digest string) string {
	return strings.NewReplacer(
		"{user_id}", strconv.FormatInt(topic.UserID, 10),
		"{topic_id}", strconv.FormatInt(topic.ID, 10),
		"{topic_name}", topic.Name,
		"{existing_events}", digest,
		"{article_title}", article.Title,
		"{article_summary}", article.Summary,
	).Replace(template)
}

// FitPrompt renders the prompt within maxRunes by leaving out the least
// recently updated events. The article fields are never shortened. It returns
// the prompt and the events it lists, in their original order.
func FitPrompt(template string, article domain.Article, topic domain.Topic, events []domain.Event, maxRunes int) (string, []domain.Event, error) {
	full := RenderPrompt(template, article, topic, events)
	if maxRunes <= 0 || utf8.RuneCountInString(full) <= maxRunes {
		return full, events, nil
	}

	slots := strings.Count(template, "{existing_events}")
	if slots == 0 {
		return "", nil, fmt.Errorf("prompt of %d runes exceeds %d without any events: %w",
			utf8.RuneCountInString(full), maxRunes, domain.ErrArbitration)
	}

	fixed := utf8.RuneCountInString(render(template, article, topic, ""))
	room := (maxRunes - fixed) / slots
	if room < utf8.RuneCountInString(noEvents) {
		return "", nil, fmt.Errorf("article leaves no room for events within %d runes: %w", maxRunes, domain.ErrArbitration)
	}

	byRecency := make([]int, len(events))
	for i := range byRecency {
		byRecency[i] = i
	}
	sort.SliceStable(byRecency, func(x, y int) bool {
		a, b := events[byRecency[x]], events[byRecency[y]]
		if !a.LastUpdatedAt.Equal(b.LastUpdatedAt) {
			return a.LastUpdatedAt.After(b.LastUpdatedAt)
		}
		return a.ID > b.ID
	})

	keep := make([]bool, len(events))
	used, kept := 0, 0
	for _, i := range byRecency {
		cost := utf8.RuneCountInString(digestEntry(events[i]))
		if kept > 0 {
			cost++ // separator
		}
		if used+cost > room {
			continue
		}
		keep[i] = true
		used += cost
		kept++
	}
	if kept == 0 {
		return "", nil, fmt.Errorf("no event fits the remaining %d runes: %w", room, domain.ErrArbitration)
	}

	shown := make([]domain.Event, 0, kept)
	for i, e := range events {
		if keep[i] {
			shown = append(shown, e)
		}
	}
	return RenderPrompt(template, article, topic, shown), shown, nil
}
