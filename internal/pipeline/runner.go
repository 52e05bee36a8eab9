// Package pipeline orchestrates one conversation turn end to end: feedback
// detection, intent routing, retrieval or memory access, and answer
// composition. Turns within a conversation are strictly sequential.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/scout/internal/feedback"
	"github.com/kalambet/scout/internal/fetch"
	"github.com/kalambet/scout/internal/intent"
	"github.com/kalambet/scout/internal/memory"
	"github.com/kalambet/scout/internal/ollama"
	"github.com/kalambet/scout/internal/scout"
	"github.com/kalambet/scout/internal/storage"
)

const identityReply = "I'm scout, a local research assistant. I answer questions by " +
	"checking trusted sources in order, remember facts you teach me, and adjust " +
	"which sources I consult when you correct me."

const notFoundReply = "I couldn't find a reliable source for that, so I'd rather not guess."

// Retriever is the retrieval engine surface the pipeline needs.
type Retriever interface {
	Retrieve(ctx context.Context, topic string, opts scout.Options) (fetch.Result, error)
}

// LLM is the language model surface used for chat and answer rewriting.
type LLM interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (string, error)
	Rewrite(ctx context.Context, model, question, summary, sourceLabel, hint string) (string, error)
}

// Reply is the outcome of one processed turn.
type Reply struct {
	ConversationID string  `json:"conversation_id"`
	Text           string  `json:"text"`
	Action         string  `json:"action"`
	Source         string  `json:"source,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	TimeSensitive  bool    `json:"time_sensitive"`
	Warning        string  `json:"warning,omitempty"`
}

// Runner processes turns.
type Runner struct {
	store    *storage.Store
	memory   *memory.Memory
	router   *intent.Router
	engine   Retriever
	detector *feedback.Detector
	learner  *feedback.Learner
	llm      LLM
	model    string
	log      *slog.Logger
}

func NewRunner(store *storage.Store, mem *memory.Memory, router *intent.Router,
	engine Retriever, llm LLM, model string, log *slog.Logger) *Runner {
	return &Runner{
		store:    store,
		memory:   mem,
		router:   router,
		engine:   engine,
		detector: feedback.NewDetector(),
		learner:  feedback.NewLearner(),
		llm:      llm,
		model:    model,
		log:      log,
	}
}

// RunTurn handles one user message. No branch surfaces an internal fault to
// the user; the worst outcome is an honest not-found reply.
func (r *Runner) RunTurn(ctx context.Context, conversationID, text string) (Reply, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if err := r.store.EnsureConversation(conversationID); err != nil {
		return Reply{}, fmt.Errorf("ensuring conversation: %w", err)
	}

	recent, err := r.store.RecentTurns(conversationID, 10)
	if err != nil {
		return Reply{}, fmt.Errorf("loading history: %w", err)
	}

	if _, err := r.store.AppendTurn(storage.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        text,
	}); err != nil {
		return Reply{}, fmt.Errorf("recording turn: %w", err)
	}

	// Feedback is a side channel: the event is stored and policies are
	// re-learned, then routing proceeds as usual.
	if event, ok := r.detector.Detect(text, conversationID, recent); ok {
		r.recordFeedback(event)
	}

	decision := r.router.Route(text)
	r.log.Debug("routed turn",
		"conversation", conversationID,
		"action", decision.Action,
		"domain", decision.Domain,
		"time_sensitive", decision.TimeSensitive)

	reply := r.dispatch(ctx, conversationID, text, recent, decision)
	reply.ConversationID = conversationID
	reply.Action = string(decision.Action)
	reply.TimeSensitive = decision.TimeSensitive
	if reply.Warning == "" {
		reply.Warning = decision.Warning
	}

	if _, err := r.store.AppendTurn(storage.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        reply.Text,
	}); err != nil {
		return Reply{}, fmt.Errorf("recording reply: %w", err)
	}
	return reply, nil
}

func (r *Runner) recordFeedback(event storage.FeedbackEvent) {
	if err := r.store.AppendFeedbackEvent(event); err != nil {
		r.log.Warn("storing feedback failed", "error", err)
		return
	}
	events, err := r.store.FeedbackEvents()
	if err != nil {
		r.log.Warn("loading feedback history failed", "error", err)
		return
	}
	policies := r.learner.Apply(events)
	if err := r.store.UpsertPolicies(policies); err != nil {
		r.log.Warn("updating learned policies failed", "error", err)
		return
	}
	r.log.Info("policies re-learned", "events", len(events), "policies", len(policies))
}

func (r *Runner) dispatch(ctx context.Context, conversationID, text string, recent []storage.Turn, d intent.Decision) Reply {
	switch d.Action {
	case intent.ActionIdentityResponse:
		return Reply{Text: identityReply}

	case intent.ActionCorrection:
		return r.handleCorrection(d)

	case intent.ActionSearchHint:
		return r.handleSearchHint(d)

	case intent.ActionPriceQuery:
		topic := d.Fields["asset"]
		if topic == "" {
			topic = d.Topic
		}
		return r.retrieveAndCompose(ctx, conversationID, text, topic+" price", d)

	case intent.ActionWeatherQuery:
		topic := text
		if loc := d.Fields["location"]; loc != "" {
			topic = "weather in " + loc
		}
		return r.retrieveAndCompose(ctx, conversationID, text, topic, d)

	case intent.ActionMemoryWrite:
		return r.handleMemoryWrite(d)

	case intent.ActionMemoryRead:
		return r.handleMemoryRead(d)

	case intent.ActionPlanning:
		return r.handlePlanning(ctx, text)

	case intent.ActionTriggerScout:
		return r.retrieveAndCompose(ctx, conversationID, text, d.Topic, d)

	default:
		return r.handleChat(ctx, text, recent)
	}
}

func (r *Runner) handleCorrection(d intent.Decision) Reply {
	topic := d.Fields["topic"]
	fact := d.Fields["corrected_fact"]
	if topic != "" && fact != "" {
		if err := r.memory.Remember(topic, fact, "user correction"); err != nil {
			r.log.Warn("storing correction failed", "topic", topic, "error", err)
		}
		return Reply{Text: fmt.Sprintf("Noted, I'll remember that %s is %s.", topic, fact)}
	}
	return Reply{Text: "Thanks for the correction, I've logged it."}
}

func (r *Runner) handleSearchHint(d intent.Decision) Reply {
	if d.Hint == nil {
		return Reply{Text: "I couldn't work out what to change about my search behavior.",
			Warning: "could not parse search instruction"}
	}
	if err := r.store.UpsertPolicy(storage.SearchPolicy{
		Pattern: d.Hint.Pattern,
		Rules:   d.Hint.Rules,
	}); err != nil {
		r.log.Warn("storing search hint failed", "pattern", d.Hint.Pattern, "error", err)
		return Reply{Text: "I couldn't save that instruction, sorry.", Warning: "policy write failed"}
	}
	return Reply{Text: fmt.Sprintf("Got it, I'll apply that whenever you ask about %s.", d.Hint.Pattern)}
}

func (r *Runner) handleMemoryWrite(d intent.Decision) Reply {
	topic, value := d.Fields["topic"], d.Fields["value"]
	if topic == "" {
		topic = d.Fields["fact"]
		value = d.Fields["fact"]
	}
	if err := r.memory.Remember(topic, value, "user"); err != nil {
		r.log.Warn("memory write failed", "topic", topic, "error", err)
		return Reply{Text: "I couldn't save that, sorry.", Warning: "memory write failed"}
	}
	return Reply{Text: fmt.Sprintf("Remembered: %s.", d.Fields["fact"])}
}

func (r *Runner) handleMemoryRead(d intent.Decision) Reply {
	topic := d.Fields["topic"]
	if topic == "" {
		topics, err := r.memory.Topics()
		if err != nil || len(topics) == 0 {
			return Reply{Text: "I don't have anything stored yet."}
		}
		return Reply{Text: "Here's what I know about: " + strings.Join(topics, ", ") + "."}
	}
	fact, err := r.memory.Recall(topic)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("I don't have anything stored about %s.%s",
				topic, r.relatedHint(topic))}
		}
		r.log.Warn("memory read failed", "topic", topic, "error", err)
		return Reply{Text: fmt.Sprintf("I don't have anything stored about %s.", topic)}
	}
	return Reply{Text: fmt.Sprintf("You told me %s is %s.", fact.Topic, fact.Fact)}
}

// relatedHint suggests stored topics close to the text, for replies where
// the exact answer is missing. Empty when nothing clears the similarity
// threshold.
func (r *Runner) relatedHint(text string) string {
	facts, err := r.memory.Related(text, 3)
	if err != nil || len(facts) == 0 {
		return ""
	}
	topics := make([]string, len(facts))
	for i, f := range facts {
		topics[i] = f.Topic
	}
	return " Related topics I do know about: " + strings.Join(topics, ", ") + "."
}

func (r *Runner) handlePlanning(ctx context.Context, text string) Reply {
	out, err := r.llm.Chat(ctx, r.model, []ollama.Message{
		{Role: "user", Content: "Draft a short numbered plan (3-5 steps) for the following. " +
			"Note any facts that would need looking up.\n\n" + text},
	})
	if err != nil {
		r.log.Warn("planning chat failed", "error", err)
		return Reply{Text: "Let's break it down: clarify the goal, list what's unknown, then work the steps in order."}
	}
	return Reply{Text: out}
}

func (r *Runner) handleChat(ctx context.Context, text string, recent []storage.Turn) Reply {
	messages := make([]ollama.Message, 0, len(recent)+1)
	for _, t := range recent {
		messages = append(messages, ollama.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: text})

	out, err := r.llm.Chat(ctx, r.model, messages)
	if err != nil {
		r.log.Warn("chat failed", "error", err)
		return Reply{Text: "I'm having trouble thinking right now, give me a moment and try again.",
			Warning: "model unavailable"}
	}
	return Reply{Text: out}
}

// retrieveAndCompose runs the retrieval engine and rewrites the winning
// result into a conversational answer. Exhausted sources produce the honest
// not-found reply rather than an error.
func (r *Runner) retrieveAndCompose(ctx context.Context, conversationID, question, topic string, d intent.Decision) Reply {
	opts := scout.Options{
		Domain:         d.Domain,
		QueryType:      d.QueryType,
		IgnoreCache:    d.TimeSensitive,
		ConversationID: conversationID,
	}
	if policy, ok, err := r.store.FindPolicy(topic, d.Domain); err != nil {
		r.log.Warn("policy lookup failed", "topic", topic, "error", err)
	} else if ok {
		opts.Policy = policy.Rules
		if policy.Rules.AvoidCache {
			opts.IgnoreCache = true
		}
	}

	res, err := r.engine.Retrieve(ctx, topic, opts)
	if err != nil {
		if !errors.Is(err, scout.ErrNotFound) {
			r.log.Warn("retrieval failed", "topic", topic, "error", err)
		}
		return Reply{Text: notFoundReply + r.relatedHint(topic)}
	}

	// What the engine returns is worth keeping for later "what do you
	// know about" questions.
	if err := r.memory.Remember(topic, res.Summary, res.Source); err != nil {
		r.log.Warn("storing retrieved fact failed", "topic", topic, "error", err)
	}

	hint := ""
	if d.TimeSensitive {
		hint = "The user asked about current information; present the answer as of right now."
	}
	text, err := r.llm.Rewrite(ctx, r.model, question, res.Summary, res.Source, hint)
	if err != nil {
		r.log.Warn("rewrite failed", "error", err)
		// Fall back to the raw summary rather than dropping the result.
		text = fmt.Sprintf("%s (via %s)", res.Summary, res.Source)
	}
	return Reply{Text: text, Source: res.Source, Confidence: res.Confidence}
}
