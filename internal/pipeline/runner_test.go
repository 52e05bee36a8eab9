package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kalambet/scout/internal/classify"
	"github.com/kalambet/scout/internal/fetch"
	"github.com/kalambet/scout/internal/intent"
	"github.com/kalambet/scout/internal/memory"
	"github.com/kalambet/scout/internal/ollama"
	"github.com/kalambet/scout/internal/scout"
	"github.com/kalambet/scout/internal/storage"
)

type stubRetriever struct {
	result   fetch.Result
	err      error
	lastOpts scout.Options
	topic    string
	calls    int
}

func (s *stubRetriever) Retrieve(ctx context.Context, topic string, opts scout.Options) (fetch.Result, error) {
	s.calls++
	s.topic = topic
	s.lastOpts = opts
	if s.err != nil {
		return fetch.Result{}, s.err
	}
	return s.result, nil
}

type stubLLM struct {
	chatReply    string
	rewriteHint  string
	rewriteCalls int
	chatCalls    int
}

func (s *stubLLM) Chat(ctx context.Context, model string, messages []ollama.Message) (string, error) {
	s.chatCalls++
	if s.chatReply != "" {
		return s.chatReply, nil
	}
	return "chat reply", nil
}

func (s *stubLLM) Rewrite(ctx context.Context, model, question, summary, sourceLabel, hint string) (string, error) {
	s.rewriteCalls++
	s.rewriteHint = hint
	return "rewritten: " + summary, nil
}

func newTestRunner(t *testing.T, retriever Retriever, llm LLM) (*Runner, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mem := memory.New(store)
	router := intent.NewRouter(classify.New(classify.DefaultRules()), mem)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(store, mem, router, retriever, llm, "test-model", log), store
}

func TestRunTurnScoutSuccess(t *testing.T) {
	retriever := &stubRetriever{
		result: fetch.Found("wikidata", "Daniel Jones is the Giants quarterback", 0.6),
	}
	llm := &stubLLM{}
	r, _ := newTestRunner(t, retriever, llm)

	reply, err := r.RunTurn(context.Background(), "",
		"Who is the current quarterback for the New York Giants?")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply.Action != "TRIGGER_SCOUT" {
		t.Errorf("got action %q", reply.Action)
	}
	if reply.Source != "wikidata" {
		t.Errorf("got source %q", reply.Source)
	}
	if !strings.HasPrefix(reply.Text, "rewritten:") {
		t.Errorf("answer not rewritten: %q", reply.Text)
	}
	if retriever.lastOpts.QueryType != "roster" {
		t.Errorf("got query type %q, want roster", retriever.lastOpts.QueryType)
	}
	if !retriever.lastOpts.IgnoreCache {
		t.Error("time-sensitive query did not bypass the cache")
	}
	if llm.rewriteHint == "" {
		t.Error("temporal hint not passed to rewrite")
	}
	if reply.ConversationID == "" {
		t.Error("no conversation id assigned")
	}
}

func TestRunTurnScoutNotFound(t *testing.T) {
	retriever := &stubRetriever{err: scout.ErrNotFound}
	r, _ := newTestRunner(t, retriever, &stubLLM{})

	reply, err := r.RunTurn(context.Background(), "", "What are the latest news headlines about the election?")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !strings.Contains(reply.Text, "reliable source") {
		t.Errorf("got %q, want the honest not-found reply", reply.Text)
	}
}

func TestRunTurnAppendsBothTurns(t *testing.T) {
	r, store := newTestRunner(t, &stubRetriever{err: scout.ErrNotFound}, &stubLLM{})

	reply, err := r.RunTurn(context.Background(), "", "tell me a joke")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	turns, err := store.RecentTurns(reply.ConversationID, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want user + assistant", len(turns))
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("roles wrong: %s, %s", turns[0].Role, turns[1].Role)
	}
}

func TestRunTurnMemoryWriteAndRead(t *testing.T) {
	r, _ := newTestRunner(t, &stubRetriever{err: scout.ErrNotFound}, &stubLLM{})
	ctx := context.Background()

	reply, err := r.RunTurn(ctx, "c1", "remember that my favorite language is Python")
	if err != nil {
		t.Fatalf("RunTurn (write): %v", err)
	}
	if reply.Action != "MEMORY_WRITE" {
		t.Fatalf("got action %q", reply.Action)
	}

	reply, err = r.RunTurn(ctx, "c1", "what do you know about my favorite language?")
	if err != nil {
		t.Fatalf("RunTurn (read): %v", err)
	}
	if reply.Action != "MEMORY_READ" {
		t.Fatalf("got action %q", reply.Action)
	}
	if !strings.Contains(reply.Text, "Python") {
		t.Errorf("recall lost the fact: %q", reply.Text)
	}
}

func TestRunTurnMemoryReadMissSuggestsRelated(t *testing.T) {
	r, _ := newTestRunner(t, &stubRetriever{err: scout.ErrNotFound}, &stubLLM{})
	ctx := context.Background()

	if _, err := r.RunTurn(ctx, "c1", "remember that bitcoin price is $95,000"); err != nil {
		t.Fatalf("RunTurn (write): %v", err)
	}

	reply, err := r.RunTurn(ctx, "c1", "what do you know about bitcoin value?")
	if err != nil {
		t.Fatalf("RunTurn (read): %v", err)
	}
	if !strings.Contains(reply.Text, "don't have anything stored about bitcoin value") {
		t.Fatalf("got %q, want a miss reply", reply.Text)
	}
	if !strings.Contains(reply.Text, "Related topics I do know about: bitcoin price") {
		t.Errorf("miss reply %q does not suggest the nearby topic", reply.Text)
	}
}

func TestRunTurnIdentity(t *testing.T) {
	r, _ := newTestRunner(t, &stubRetriever{}, &stubLLM{})

	reply, err := r.RunTurn(context.Background(), "", "who are you?")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply.Action != "IDENTITY_RESPONSE" {
		t.Errorf("got action %q", reply.Action)
	}
	if reply.Text == "" {
		t.Error("empty identity reply")
	}
}

func TestRunTurnSearchHintStoresPolicy(t *testing.T) {
	r, store := newTestRunner(t, &stubRetriever{}, &stubLLM{})

	reply, err := r.RunTurn(context.Background(), "",
		"from now on when I ask about bitcoin, always use coingecko first")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply.Action != "SEARCH_HINT" {
		t.Fatalf("got action %q", reply.Action)
	}

	policy, ok, err := store.FindPolicy("bitcoin price today", "finance")
	if err != nil || !ok {
		t.Fatalf("policy not stored (ok=%v, err=%v)", ok, err)
	}
	if len(policy.Rules.PreferSource) == 0 || policy.Rules.PreferSource[0] != "coingecko" {
		t.Errorf("got rules %+v", policy.Rules)
	}
}

func TestRunTurnTaughtPolicySurvivesLearning(t *testing.T) {
	r, store := newTestRunner(t, &stubRetriever{}, &stubLLM{})
	ctx := context.Background()

	if _, err := r.RunTurn(ctx, "c1",
		"from now on when I ask about bitcoin, always use coingecko first"); err != nil {
		t.Fatalf("RunTurn (hint): %v", err)
	}

	// Unrelated style feedback triggers the learning pass; the taught
	// policy must not be touched by it.
	if _, err := r.RunTurn(ctx, "c1", "please be more concise"); err != nil {
		t.Fatalf("RunTurn (feedback): %v", err)
	}
	events, err := store.FeedbackEvents()
	if err != nil {
		t.Fatalf("FeedbackEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d feedback events, want 1", len(events))
	}

	policy, ok, err := store.FindPolicy("bitcoin price", "finance")
	if err != nil || !ok {
		t.Fatalf("taught policy lost after learning pass (ok=%v, err=%v)", ok, err)
	}
	if len(policy.Rules.PreferSource) == 0 || policy.Rules.PreferSource[0] != "coingecko" {
		t.Errorf("got rules %+v", policy.Rules)
	}
}

func TestRunTurnCorrectionFeedsLearningAndMemory(t *testing.T) {
	retriever := &stubRetriever{result: fetch.Found("wikipedia", "some summary", 0.7)}
	r, store := newTestRunner(t, retriever, &stubLLM{})
	ctx := context.Background()

	if _, err := r.RunTurn(ctx, "c1", "what's the bitcoin price?"); err != nil {
		t.Fatalf("RunTurn (question): %v", err)
	}

	reply, err := r.RunTurn(ctx, "c1", "that's wrong, bitcoin is actually $95,000")
	if err != nil {
		t.Fatalf("RunTurn (correction): %v", err)
	}
	if reply.Action != "CORRECTION" {
		t.Fatalf("got action %q", reply.Action)
	}

	// The feedback side channel stored an immutable event.
	events, err := store.FeedbackEvents()
	if err != nil {
		t.Fatalf("FeedbackEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d feedback events, want 1", len(events))
	}
	if events[0].CorrectedFact != "$95,000" {
		t.Errorf("got corrected fact %q", events[0].CorrectedFact)
	}

	// The disputed value is recallable afterwards.
	reply, err = r.RunTurn(ctx, "c1", "what do you know about bitcoin?")
	if err != nil {
		t.Fatalf("RunTurn (recall): %v", err)
	}
	if !strings.Contains(reply.Text, "$95,000") {
		t.Errorf("correction not recallable: %q", reply.Text)
	}
}

func TestRunTurnMalformedHintWarns(t *testing.T) {
	r, _ := newTestRunner(t, &stubRetriever{}, &stubLLM{})

	reply, err := r.RunTurn(context.Background(), "", "from now on just be better somehow")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply.Action != "CHAT" {
		t.Errorf("got action %q, want CHAT fallback", reply.Action)
	}
	if reply.Warning == "" {
		t.Error("no warning on unparseable instruction")
	}
}

func TestRunTurnPriceQueryForcesFinanceDomain(t *testing.T) {
	retriever := &stubRetriever{result: fetch.Found("coingecko", "$95,000", 0.9)}
	r, _ := newTestRunner(t, retriever, &stubLLM{})

	reply, err := r.RunTurn(context.Background(), "", "what is the current price of bitcoin?")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply.Action != "PRICE_QUERY" {
		t.Fatalf("got action %q", reply.Action)
	}
	if retriever.lastOpts.Domain != "finance" {
		t.Errorf("got domain %q", retriever.lastOpts.Domain)
	}
	if !strings.Contains(retriever.topic, "bitcoin") {
		t.Errorf("got topic %q", retriever.topic)
	}
}

func TestRunTurnLearnedAvoidCacheApplies(t *testing.T) {
	retriever := &stubRetriever{result: fetch.Found("open_meteo", "12C and clear", 0.9)}
	r, store := newTestRunner(t, retriever, &stubLLM{})

	if err := store.UpsertPolicy(storage.SearchPolicy{
		Pattern: "weather",
		Rules:   storage.PolicyRules{AvoidCache: true},
	}); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}

	// This phrasing avoids the always-temporal keywords, so the cache
	// bypass must come from the learned policy alone.
	if _, err := r.RunTurn(context.Background(), "", "is it raining in Oslo"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if retriever.calls == 0 {
		t.Fatal("retriever never called")
	}
	if !retriever.lastOpts.IgnoreCache {
		t.Error("learned avoid_cache did not force a cache bypass")
	}
	if !retriever.lastOpts.Policy.AvoidCache {
		t.Error("policy rules not passed to the engine")
	}
}
