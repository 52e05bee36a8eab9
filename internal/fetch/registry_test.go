package fetch

import (
	"context"
	"reflect"
	"testing"
)

// stubFetcher implements Fetcher for registry tests.
type stubFetcher struct {
	id     string
	result Result
	err    error
	calls  int
}

func (s *stubFetcher) ID() string { return s.id }

func (s *stubFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	s.calls++
	return s.result, s.err
}

func TestCandidates_RankedByOverlap(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubFetcher{id: "sports"}, "team", "league", "quarterback")
	r.Register(&stubFetcher{id: "news"}, "news", "headline")
	r.Register(&stubFetcher{id: "crypto"}, "bitcoin", "crypto")

	got := r.Candidates("what team does the quarterback play for")
	want := []string{"sports"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates() = %v, want %v", got, want)
	}
}

func TestCandidates_MultiWordKeywordsOutrankSingle(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubFetcher{id: "single"}, "seller")
	r.Register(&stubFetcher{id: "phrase"}, "best seller")

	got := r.Candidates("who wrote the best seller this week")
	if len(got) != 2 || got[0] != "phrase" {
		t.Errorf("Candidates() = %v, want phrase ranked first", got)
	}
}

func TestCandidates_TieBrokenByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubFetcher{id: "first"}, "price")
	r.Register(&stubFetcher{id: "second"}, "price")

	got := r.Candidates("current price of eggs")
	want := []string{"first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates() = %v, want %v", got, want)
	}
}

func TestCandidates_NoMatchReturnsEmpty(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubFetcher{id: "sports"}, "team")

	if got := r.Candidates("tell me a joke"); len(got) != 0 {
		t.Errorf("Candidates() = %v, want empty", got)
	}
}

func TestRegister_ReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubFetcher{id: "a"}, "alpha")
	r.Register(&stubFetcher{id: "b"}, "alpha")
	replacement := &stubFetcher{id: "a"}
	r.Register(replacement, "alpha")

	got := r.Candidates("alpha question")
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates() after replace = %v, want %v", got, want)
	}
	if r.Lookup("a") != replacement {
		t.Error("Lookup() did not return the replacement fetcher")
	}
}

func TestFound_ClampsConfidence(t *testing.T) {
	if got := Found("x", "s", 1.7).Confidence; got != 1.0 {
		t.Errorf("confidence = %v, want 1.0", got)
	}
	if got := Found("x", "s", -0.2).Confidence; got != 0.0 {
		t.Errorf("confidence = %v, want 0.0", got)
	}
}
