package classify

// Domain is a coarse topic category used to pick a retrieval strategy.
type Domain string

const (
	DomainSports     Domain = "sports"
	DomainNews       Domain = "news"
	DomainBestseller Domain = "bestseller"
	DomainFinance    Domain = "finance"
	DomainWeather    Domain = "weather"
	DomainGeneric    Domain = "generic"
)

// Rules is the immutable rule data the classifier runs on. Built once at
// startup and injected, so tests can substitute their own sets.
type Rules struct {
	// AlwaysTemporal tokens/phrases mark a query time-sensitive on their own.
	AlwaysTemporal []string

	// IdentityPrefixes are interrogative present-tense openers; a query is an
	// identity/status question only when one of these co-occurs with a
	// RoleNoun.
	IdentityPrefixes []string
	RoleNouns        []string

	// HistoricalMarkers suppress the identity match (explicit past tense).
	HistoricalMarkers []string

	// CurrentMarkers defeat historical suppression ("current", "now", ...).
	CurrentMarkers []string

	// DomainVocab maps each domain to its keyword set.
	DomainVocab map[Domain][]string

	// DomainOrder is the evaluation priority; first matching domain wins.
	DomainOrder []Domain

	// CutoffYear is the model's knowledge-cutoff year; mentioning a later
	// year forces time sensitivity, and years at or before it count as
	// historical context.
	CutoffYear int
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		AlwaysTemporal: []string{
			"price", "stock", "crypto", "market", "trading", "shares",
			"score", "playing", "standings",
			"weather", "temperature", "forecast",
			"breaking news", "latest news", "headline", "top news",
			"bestseller", "best seller", "top book",
			"today", "right now", "this week", "this morning", "tonight",
			"latest", "currently",
		},
		IdentityPrefixes: []string{
			"who is the", "who's the", "who are the",
			"what is the current", "what's the current",
			"who is currently", "who are currently",
		},
		RoleNouns: []string{
			"president", "prime minister", "governor", "senator", "mayor",
			"ceo", "chairman", "coach", "manager", "captain",
			"quarterback", "qb", "pitcher", "goalie", "mvp",
		},
		HistoricalMarkers: []string{
			"who was", "what was", "used to be", "back in", "formerly",
			"in history", "historically",
		},
		CurrentMarkers: []string{
			"current", "currently", "now", "today", "at the moment",
		},
		DomainVocab: map[Domain][]string{
			DomainSports: {
				"quarterback", "coach", "pitcher", "goalie", "roster",
				"team", "league", "game", "score", "match", "playoffs",
				"nfl", "nba", "mlb", "nhl", "soccer", "giants", "yankees",
			},
			DomainNews: {
				"news", "headline", "breaking", "journalist", "reported",
			},
			DomainBestseller: {
				"bestseller", "best seller", "nyt list", "top book",
			},
			DomainFinance: {
				"price", "stock", "ticker", "crypto", "bitcoin", "ethereum",
				"nasdaq", "dow", "market", "shares",
			},
			DomainWeather: {
				"weather", "temperature", "forecast", "rain", "snow", "climate",
			},
		},
		// Sports and news are the most commonly misrouted domains, so they
		// are checked first.
		DomainOrder: []Domain{
			DomainSports, DomainNews, DomainBestseller,
			DomainFinance, DomainWeather,
		},
		CutoffYear: 2023,
	}
}
