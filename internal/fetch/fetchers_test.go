package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWikidataFetcher_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search"); got != "Ada Lovelace" {
			t.Errorf("search param = %q, want %q", got, "Ada Lovelace")
		}
		w.Write([]byte(`{"search":[{"id":"Q7259","label":"Ada Lovelace","description":"English mathematician","url":"//www.wikidata.org/wiki/Q7259"}]}`))
	}))
	defer srv.Close()

	f := NewWikidataFetcher()
	f.BaseURL = srv.URL

	res, err := f.Fetch(context.Background(), "who is Ada Lovelace?")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Status != StatusFound {
		t.Fatalf("Status = %v, want FOUND", res.Status)
	}
	if !strings.Contains(res.Summary, "English mathematician") {
		t.Errorf("Summary = %q, missing description", res.Summary)
	}
	if res.Source != "wikidata" {
		t.Errorf("Source = %q, want wikidata", res.Source)
	}
}

func TestWikidataFetcher_EmptyResultIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"search":[]}`))
	}))
	defer srv.Close()

	f := NewWikidataFetcher()
	f.BaseURL = srv.URL

	res, err := f.Fetch(context.Background(), "xyzzyplugh")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Status != StatusNotFound {
		t.Errorf("Status = %v, want NOT_FOUND", res.Status)
	}
}

func TestFetcher_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	f := NewWikidataFetcher()
	f.BaseURL = srv.URL
	f.http = newHTTPSource(20 * time.Millisecond)

	_, err := f.Fetch(context.Background(), "anything")
	se, ok := AsSourceError(err)
	if !ok {
		t.Fatalf("error = %v, want *SourceError", err)
	}
	if se.Kind != ErrTimeout {
		t.Errorf("Kind = %v, want timeout", se.Kind)
	}
}

func TestFetcher_BadJSONIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json {{{`))
	}))
	defer srv.Close()

	f := NewSportsDBFetcher()
	f.BaseURL = srv.URL

	_, err := f.Fetch(context.Background(), "new york giants team")
	se, ok := AsSourceError(err)
	if !ok {
		t.Fatalf("error = %v, want *SourceError", err)
	}
	if se.Kind != ErrParse {
		t.Errorf("Kind = %v, want parse", se.Kind)
	}
}

func TestKeyGatedFetchers_NoKeyMeansNotFound(t *testing.T) {
	ctx := context.Background()

	res, err := NewNewsAPIFetcher("").Fetch(ctx, "breaking news")
	if err != nil || res.Status != StatusNotFound {
		t.Errorf("newsapi without key: status=%v err=%v, want NOT_FOUND nil", res.Status, err)
	}

	res, err = NewNYTBooksFetcher("").Fetch(ctx, "current bestsellers")
	if err != nil || res.Status != StatusNotFound {
		t.Errorf("nyt_books without key: status=%v err=%v, want NOT_FOUND nil", res.Status, err)
	}
}

func TestRSSFetcher_MatchesItem(t *testing.T) {
	feed := `<?xml version="1.0"?><rss><channel>
		<item><title>Markets rally as rates hold</title><link>http://x/1</link><description>Stocks climbed today.</description></item>
		<item><title>Giants name starting quarterback</title><link>http://x/2</link><description>The team confirmed the roster decision.</description></item>
	</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewRSSFetcher([]string{srv.URL})
	res, err := f.Fetch(context.Background(), "giants quarterback")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Status != StatusFound {
		t.Fatalf("Status = %v, want FOUND", res.Status)
	}
	if res.URL != "http://x/2" {
		t.Errorf("URL = %q, want the matching item link", res.URL)
	}
}

func TestLocalCorpusFetcher_FindsTextFile(t *testing.T) {
	dir := t.TempDir()
	note := "Meeting notes: the staging database migration happens Friday. Bring the rollback plan."
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte(note), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewLocalCorpusFetcher(dir)
	res, err := f.Fetch(context.Background(), "database migration plan")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Status != StatusFound {
		t.Fatalf("Status = %v, want FOUND", res.Status)
	}
	if !strings.Contains(res.Summary, "migration") {
		t.Errorf("Summary = %q, want snippet around match", res.Summary)
	}
}

func TestLocalCorpusFetcher_EmptyDirNotFound(t *testing.T) {
	f := NewLocalCorpusFetcher(t.TempDir())
	res, err := f.Fetch(context.Background(), "database migration plan")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Status != StatusNotFound {
		t.Errorf("Status = %v, want NOT_FOUND", res.Status)
	}
}

func TestWebPageFetcher_ExtractsParagraph(t *testing.T) {
	page := `<html><head><title>Town Updates</title></head><body>
		<p>The annual harvest festival starts Saturday at the fairgrounds.</p>
		<p>Council approved the new bridge budget after a long debate.</p>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewWebPageFetcher([]string{srv.URL})
	res, err := f.Fetch(context.Background(), "harvest festival fairgrounds")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Status != StatusFound {
		t.Fatalf("Status = %v, want FOUND", res.Status)
	}
	if !strings.Contains(res.Summary, "Town Updates") {
		t.Errorf("Summary = %q, want title prefix", res.Summary)
	}
}

func TestExtractLocation(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"what is the weather in Berlin today", "berlin"},
		{"weather forecast for Tokyo", "tokyo"},
		{"what's the temperature like in new york right now", "new york"},
	}
	for _, tc := range cases {
		if got := extractLocation(tc.in); got != tc.want {
			t.Errorf("extractLocation(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveTicker(t *testing.T) {
	if got := resolveTicker("what is the current stock price of Tesla?"); got != "TSLA" {
		t.Errorf("resolveTicker = %q, want TSLA", got)
	}
	if got := resolveTicker("quote for NVDA please"); got != "NVDA" {
		t.Errorf("resolveTicker = %q, want NVDA", got)
	}
	if got := resolveTicker("tell me a story"); got != "" {
		t.Errorf("resolveTicker = %q, want empty", got)
	}
}
