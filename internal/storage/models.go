package storage

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Conversation struct {
	ID        string
	StartedAt time.Time
}

type Turn struct {
	ID             string
	ConversationID string
	TurnIndex      int
	Role           string // "user" or "assistant"
	Content        string
	CreatedAt      time.Time
}

// CacheEntry holds the winning retrieval result for a normalized topic,
// serialized as JSON. Entries are never served past ExpiresAt.
type CacheEntry struct {
	Key        string
	ResultJSON string
	ExpiresAt  time.Time
	UpdatedAt  time.Time
}

// PolicyRules are the learned or user-taught routing rules for one pattern.
type PolicyRules struct {
	RequireNumeric bool     `json:"require_numeric,omitempty"`
	PreferSource   []string `json:"prefer_source,omitempty"`
	AvoidSource    []string `json:"avoid_source,omitempty"`
	AvoidCache     bool     `json:"avoid_cache,omitempty"`
}

// SearchPolicy biases retrieval for topics matching Pattern. At most one
// active policy exists per pattern; writes are last-write-wins.
type SearchPolicy struct {
	Pattern   string
	Rules     PolicyRules
	UpdatedAt time.Time
}

// Matches reports whether the policy applies to the given topic/domain.
// A pattern matches when it is a substring of the topic or equals the
// domain name.
func (p SearchPolicy) Matches(topic, domain string) bool {
	if p.Pattern == "" {
		return false
	}
	if strings.EqualFold(p.Pattern, domain) {
		return true
	}
	return strings.Contains(strings.ToLower(topic), strings.ToLower(p.Pattern))
}

// FeedbackEvent is an immutable record of detected user feedback.
// Corrections to corrections are new events, never edits.
type FeedbackEvent struct {
	ID             string
	ConversationID string
	TargetTurnID   string
	RawText        string
	Types          []string
	Severity       string
	CorrectedFact  string
	PreferredTools []string
	StylePrefs     string
	TimeNotes      string
	CreatedAt      time.Time
}

// ToolUseEvent records one retrieval attempt against one source, feeding
// the learning loop.
type ToolUseEvent struct {
	ID             string
	ConversationID string
	Tool           string
	Query          string
	Success        bool
	Error          string
	CreatedAt      time.Time
}

// SemanticFact is one remembered fact keyed by topic.
type SemanticFact struct {
	Topic     string
	Fact      string
	Source    string
	UpdatedAt time.Time
}
