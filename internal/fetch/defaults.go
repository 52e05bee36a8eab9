package fetch

// SourceKeys carries optional API keys for key-gated fetchers. Empty keys
// leave the fetcher registered but permanently NOT_FOUND, so tier routing
// falls through to keyless sources.
type SourceKeys struct {
	NewsAPI  string
	NYTBooks string
}

// Options configures the default registry build.
type Options struct {
	Keys      SourceKeys
	RSSFeeds  []string // empty = built-in defaults
	WebPages  []string
	CorpusDir string // empty disables the local corpus fetcher
}

// DefaultRegistry builds the standard fetcher catalog with its domain
// keywords. Registration order matters: it is the tie-break for
// equally-scored candidates.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()

	// Knowledge and reference.
	r.Register(NewWikidataFetcher(),
		"who is", "what is", "president", "population", "fact", "when was")
	r.Register(NewDBpediaFetcher(),
		"entity", "properties", "categories", "resource")
	r.Register(NewWikipediaFetcher(),
		"history", "biography", "wikipedia", "explain", "define")

	// Sports.
	r.Register(NewSportsDBFetcher(),
		"team", "league", "sports", "nfl", "nba", "soccer", "quarterback", "coach")

	// News.
	r.Register(NewNewsAPIFetcher(opts.Keys.NewsAPI),
		"news", "headline", "breaking")
	r.Register(NewRSSFetcher(opts.RSSFeeds),
		"latest", "report", "announcement")

	// Finance and crypto.
	r.Register(NewYahooFinanceFetcher(),
		"stock", "ticker", "share", "nasdaq", "dow", "apple", "microsoft", "tesla")
	r.Register(NewCoinGeckoFetcher(),
		"crypto", "cryptocurrency", "bitcoin", "ethereum", "coin")

	// Weather.
	r.Register(NewOpenMeteoFetcher(),
		"weather", "temperature", "forecast", "climate")

	// Books.
	r.Register(NewOpenLibraryFetcher(),
		"book", "author", "isbn", "library", "novel")
	r.Register(NewNYTBooksFetcher(opts.Keys.NYTBooks),
		"bestseller", "best seller", "nyt", "new york times", "top book")

	// Social.
	r.Register(NewRedditFetcher(),
		"reddit", "subreddit", "trending", "discussion")

	// Local.
	if len(opts.WebPages) > 0 {
		r.Register(NewWebPageFetcher(opts.WebPages),
			"site", "page", "website")
	}
	if opts.CorpusDir != "" {
		r.Register(NewLocalCorpusFetcher(opts.CorpusDir),
			"notes", "my document", "my file", "local")
	}

	return r
}

// GeneralFallbacks are tried when no keyword matches the query at all.
var GeneralFallbacks = []string{"wikidata", "wikipedia", "dbpedia"}
