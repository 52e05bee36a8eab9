package scout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kalambet/scout/internal/fetch"
	"github.com/kalambet/scout/internal/storage"
)

type stubFetcher struct {
	id         string
	result     fetch.Result
	err        error
	calls      int
	lastResult func(calls int) fetch.Result
}

func (f *stubFetcher) ID() string { return f.id }

func (f *stubFetcher) Fetch(ctx context.Context, query string) (fetch.Result, error) {
	f.calls++
	if f.err != nil {
		return fetch.Result{}, f.err
	}
	if f.lastResult != nil {
		return f.lastResult(f.calls), nil
	}
	return f.result, nil
}

func found(source, summary string, conf float64) *stubFetcher {
	return &stubFetcher{id: source, result: fetch.Found(source, summary, conf)}
}

func notFound(source string) *stubFetcher {
	return &stubFetcher{id: source, result: fetch.NotFound(source)}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, reg *fetch.Registry, cfg Config) (*Engine, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(reg, store, testLogger(), cfg), store
}

func TestCacheHitSkipsFetchers(t *testing.T) {
	f := found("wikidata", "Paris is the capital of France", 0.8)
	reg := fetch.NewRegistry()
	reg.Register(f, "capital")

	eng, _ := newTestEngine(t, reg, Config{})

	first, err := eng.Retrieve(context.Background(), "Capital of France", Options{})
	if err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	second, err := eng.Retrieve(context.Background(), "capital  of france", Options{})
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if f.calls != 1 {
		t.Errorf("fetcher called %d times, want 1 (second query served from cache)", f.calls)
	}
	if second.Summary != first.Summary || second.Source != first.Source {
		t.Errorf("cached result differs: %+v vs %+v", second, first)
	}
}

func TestIgnoreCacheRefetchesAndOverwrites(t *testing.T) {
	f := &stubFetcher{id: "coingecko", lastResult: func(calls int) fetch.Result {
		if calls == 1 {
			return fetch.Found("coingecko", "bitcoin at $94,000", 0.9)
		}
		return fetch.Found("coingecko", "bitcoin at $95,000", 0.9)
	}}
	reg := fetch.NewRegistry()
	reg.Register(f, "bitcoin")

	eng, _ := newTestEngine(t, reg, Config{})
	ctx := context.Background()

	if _, err := eng.Retrieve(ctx, "bitcoin price", Options{Domain: "finance"}); err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	fresh, err := eng.Retrieve(ctx, "bitcoin price", Options{Domain: "finance", IgnoreCache: true})
	if err != nil {
		t.Fatalf("IgnoreCache Retrieve: %v", err)
	}
	if fresh.Summary != "bitcoin at $95,000" {
		t.Errorf("got stale summary %q", fresh.Summary)
	}
	if f.calls != 2 {
		t.Errorf("fetcher called %d times, want 2", f.calls)
	}

	// The refresh overwrote the cache entry.
	cached, err := eng.Retrieve(ctx, "bitcoin price", Options{Domain: "finance"})
	if err != nil {
		t.Fatalf("cached Retrieve: %v", err)
	}
	if cached.Summary != "bitcoin at $95,000" || f.calls != 2 {
		t.Errorf("cache not overwritten: %q after %d calls", cached.Summary, f.calls)
	}
}

func TestExpiredCacheNeverServed(t *testing.T) {
	f := found("wikidata", "fresh answer", 0.8)
	reg := fetch.NewRegistry()
	reg.Register(f, "topic")

	eng, store := newTestEngine(t, reg, Config{})

	stale := storage.CacheEntry{
		Key:        "some topic",
		ResultJSON: `{"status":"FOUND","source":"wikidata","confidence":0.8,"summary":"stale answer"}`,
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	if err := store.PutCache(stale); err != nil {
		t.Fatalf("PutCache: %v", err)
	}

	res, err := eng.Retrieve(context.Background(), "some topic", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Summary != "fresh answer" {
		t.Errorf("served expired entry: %q", res.Summary)
	}
	if f.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", f.calls)
	}
}

func TestNotFoundIsNotCached(t *testing.T) {
	f := notFound("wikidata")
	reg := fetch.NewRegistry()
	reg.Register(f, "mystery")

	eng, _ := newTestEngine(t, reg, Config{})
	ctx := context.Background()

	if _, err := eng.Retrieve(ctx, "mystery topic", Options{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	// A second attempt must hit the source again instead of a cached miss.
	if _, err := eng.Retrieve(ctx, "mystery topic", Options{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if f.calls != 2 {
		t.Errorf("fetcher called %d times, want 2", f.calls)
	}
}

func TestTierPrecedenceDominatesConfidence(t *testing.T) {
	tier1 := found("stats", "tier one answer", 0.5)
	tier2 := found("wiki", "tier two answer", 0.95)
	reg := fetch.NewRegistry()
	reg.Register(tier1)
	reg.Register(tier2)

	eng, _ := newTestEngine(t, reg, Config{FastPaths: map[string][]Tier{
		"sports": {
			{Sources: []string{"stats"}, MinConfidence: 0.5},
			{Sources: []string{"wiki"}, MinConfidence: 0.5},
		},
	}})

	res, err := eng.Retrieve(context.Background(), "giants score", Options{Domain: "sports"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "stats" {
		t.Errorf("got source %q, want the tier-1 source despite lower confidence", res.Source)
	}
	if tier2.calls != 0 {
		t.Errorf("tier-2 fetcher invoked %d times after tier-1 success", tier2.calls)
	}
}

func TestBelowThresholdTierFallsThrough(t *testing.T) {
	tier1 := found("stats", "weak answer", 0.3)
	tier2 := found("wiki", "solid answer", 0.7)
	reg := fetch.NewRegistry()
	reg.Register(tier1)
	reg.Register(tier2)

	eng, _ := newTestEngine(t, reg, Config{FastPaths: map[string][]Tier{
		"sports": {
			{Sources: []string{"stats"}, MinConfidence: 0.5},
			{Sources: []string{"wiki"}, MinConfidence: 0.5},
		},
	}})

	res, err := eng.Retrieve(context.Background(), "giants score", Options{Domain: "sports"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "wiki" {
		t.Errorf("got source %q, want tier-2 after tier-1 fell below its floor", res.Source)
	}
}

func TestExcludedTierNeverContributes(t *testing.T) {
	stats := notFound("stats")
	social := found("reddit", "reddit says it's Jones", 1.0)
	reg := fetch.NewRegistry()
	reg.Register(stats, "quarterback")
	reg.Register(social, "quarterback")

	eng, _ := newTestEngine(t, reg, Config{FastPaths: map[string][]Tier{
		"sports": {
			{Sources: []string{"stats"}, MinConfidence: 0.5},
			{Sources: []string{"reddit"}, MinConfidence: 0.5, ExcludeFor: []string{"roster"}},
		},
	}})

	_, err := eng.Retrieve(context.Background(), "who is the giants quarterback", Options{
		Domain:    "sports",
		QueryType: "roster",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound (every permitted source empty)", err)
	}
	if social.calls != 0 {
		t.Errorf("excluded-tier fetcher invoked %d times", social.calls)
	}
}

func TestRosterQueryEndToEnd(t *testing.T) {
	stats := notFound("sports_stats")
	wikidata := found("wikidata", "The Giants' starting quarterback is Daniel Jones", 0.6)
	reddit := found("reddit", "hot take from r/nfl", 0.9)
	reg := fetch.NewRegistry()
	reg.Register(stats, "quarterback")
	reg.Register(wikidata, "quarterback")
	reg.Register(reddit, "quarterback")

	eng, _ := newTestEngine(t, reg, Config{FastPaths: map[string][]Tier{
		"sports": {
			{Sources: []string{"sports_stats"}, MinConfidence: 0.5},
			{Sources: []string{"wikidata"}, MinConfidence: 0.5},
			{Sources: []string{"reddit"}, MinConfidence: 0.5, ExcludeFor: []string{"roster"}},
		},
	}})

	res, err := eng.Retrieve(context.Background(),
		"Who is the current quarterback for the New York Giants?",
		Options{Domain: "sports", QueryType: "roster"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "wikidata" {
		t.Errorf("got source %q, want wikidata", res.Source)
	}
	if reddit.calls != 0 {
		t.Errorf("social fetcher invoked %d times on a roster query", reddit.calls)
	}
}

func TestAvoidedSourceNeverInvoked(t *testing.T) {
	reddit := found("reddit", "answer from reddit", 0.9)
	wiki := found("wikipedia", "answer from wikipedia", 0.6)
	reg := fetch.NewRegistry()
	reg.Register(reddit, "trending")
	reg.Register(wiki, "trending")

	eng, _ := newTestEngine(t, reg, Config{})

	res, err := eng.Retrieve(context.Background(), "trending topic", Options{
		Policy: storage.PolicyRules{AvoidSource: []string{"reddit"}},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "wikipedia" {
		t.Errorf("got source %q, want wikipedia", res.Source)
	}
	if reddit.calls != 0 {
		t.Errorf("avoided fetcher invoked %d times", reddit.calls)
	}
}

func TestPreferredSourceMovesToFront(t *testing.T) {
	// Both return identical confidence; preference decides via order in
	// the tie-break below only if selection is order-stable. Give the
	// preferred source a lower confidence to confirm preference affects
	// candidate order, not the selection rule.
	gecko := found("coingecko", "bitcoin at $95,000", 0.9)
	yahoo := found("yahoo_finance", "BTC-USD 95000", 0.9)
	reg := fetch.NewRegistry()
	reg.Register(yahoo, "price")
	reg.Register(gecko, "price")

	eng, _ := newTestEngine(t, reg, Config{MaxFetchers: 1})

	res, err := eng.Retrieve(context.Background(), "bitcoin price", Options{
		Policy: storage.PolicyRules{PreferSource: []string{"coingecko"}},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "coingecko" {
		t.Errorf("got source %q, want the preferred one", res.Source)
	}
	if yahoo.calls != 0 {
		t.Errorf("non-preferred fetcher invoked with MaxFetchers=1")
	}
}

func TestUnknownPreferredSourceIgnored(t *testing.T) {
	wiki := found("wikipedia", "an answer", 0.7)
	reg := fetch.NewRegistry()
	reg.Register(wiki, "question")

	eng, _ := newTestEngine(t, reg, Config{})

	res, err := eng.Retrieve(context.Background(), "question topic", Options{
		Policy: storage.PolicyRules{PreferSource: []string{"no_such_source"}},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "wikipedia" {
		t.Errorf("got source %q", res.Source)
	}
}

func TestRequireNumericDiscardsProseOnlyResults(t *testing.T) {
	prose := found("wikipedia", "Bitcoin is a decentralized currency", 0.9)
	reg := fetch.NewRegistry()
	reg.Register(prose, "bitcoin")

	eng, _ := newTestEngine(t, reg, Config{})

	_, err := eng.Retrieve(context.Background(), "bitcoin price", Options{
		Policy: storage.PolicyRules{RequireNumeric: true},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound when the sole result has no digits", err)
	}

	numeric := found("coingecko", "bitcoin: $95,000", 0.8)
	reg2 := fetch.NewRegistry()
	reg2.Register(prose, "bitcoin")
	reg2.Register(numeric, "bitcoin")
	eng2, _ := newTestEngine(t, reg2, Config{})

	res, err := eng2.Retrieve(context.Background(), "bitcoin price", Options{
		Policy: storage.PolicyRules{RequireNumeric: true},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "coingecko" {
		t.Errorf("got source %q, want the numeric one despite lower confidence", res.Source)
	}
}

func TestGeneralPathBatchCap(t *testing.T) {
	var fetchers []*stubFetcher
	reg := fetch.NewRegistry()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f := notFound(id)
		fetchers = append(fetchers, f)
		reg.Register(f, "keyword")
	}

	eng, _ := newTestEngine(t, reg, Config{})

	if _, err := eng.Retrieve(context.Background(), "keyword query", Options{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	invoked := 0
	for _, f := range fetchers {
		invoked += f.calls
	}
	if invoked != 3 {
		t.Errorf("%d fetchers invoked, want at most the default cap of 3", invoked)
	}
}

func TestFetcherErrorTreatedAsMiss(t *testing.T) {
	broken := &stubFetcher{id: "broken", err: &fetch.SourceError{
		Source: "broken", Kind: fetch.ErrTimeout, Err: context.DeadlineExceeded,
	}}
	backup := found("wikipedia", "the answer", 0.7)
	reg := fetch.NewRegistry()
	reg.Register(broken, "thing")
	reg.Register(backup, "thing")

	eng, store := newTestEngine(t, reg, Config{})

	res, err := eng.Retrieve(context.Background(), "thing to know", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source != "wikipedia" {
		t.Errorf("got source %q", res.Source)
	}

	// Both attempts logged for the learning loop, failure included.
	events, err := store.ToolUseEvents()
	if err != nil {
		t.Fatalf("ToolUseEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d tool use events, want 2", len(events))
	}
	var sawFailure bool
	for _, e := range events {
		if e.Tool == "broken" && !e.Success && e.Error != "" {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("failed attempt not recorded")
	}
}

func TestFastPathExclusionCarriesIntoFallback(t *testing.T) {
	// Every fast-path tier misses. The excluded social source also ranks
	// first on the general path; it must still never be consulted.
	stats := notFound("stats")
	reddit := found("reddit", "rumor mill", 1.0)
	wiki := found("wikipedia", "the actual roster", 0.6)
	reg := fetch.NewRegistry()
	reg.Register(reddit, "quarterback roster team")
	reg.Register(stats, "quarterback")
	reg.Register(wiki, "quarterback")

	eng, _ := newTestEngine(t, reg, Config{FastPaths: map[string][]Tier{
		"sports": {
			{Sources: []string{"stats"}, MinConfidence: 0.5},
			{Sources: []string{"reddit"}, MinConfidence: 0.5, ExcludeFor: []string{"roster"}},
		},
	}})

	res, err := eng.Retrieve(context.Background(), "quarterback roster", Options{
		Domain:    "sports",
		QueryType: "roster",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Source == "reddit" {
		t.Error("excluded source returned via general fallback")
	}
	if reddit.calls != 0 {
		t.Errorf("excluded fetcher invoked %d times", reddit.calls)
	}
}

func TestEmptyTopicRejected(t *testing.T) {
	eng, _ := newTestEngine(t, fetch.NewRegistry(), Config{})
	if _, err := eng.Retrieve(context.Background(), "   ", Options{}); err == nil {
		t.Error("expected error for empty topic")
	}
}
