// Package intent turns free-form user text into a structured routing
// decision. A priority-ordered cascade of pattern tests, first match wins;
// there is no fallible branch, every input yields a decision.
package intent

import (
	"regexp"
	"strings"

	"github.com/kalambet/scout/internal/classify"
	"github.com/kalambet/scout/internal/storage"
)

// Action is what the orchestrator should do with a turn.
type Action string

const (
	ActionChat             Action = "CHAT"
	ActionPlanning         Action = "PLANNING"
	ActionMemoryWrite      Action = "MEMORY_WRITE"
	ActionMemoryRead       Action = "MEMORY_READ"
	ActionCorrection       Action = "CORRECTION"
	ActionSearchHint       Action = "SEARCH_HINT"
	ActionPriceQuery       Action = "PRICE_QUERY"
	ActionWeatherQuery     Action = "WEATHER_QUERY"
	ActionIdentityResponse Action = "IDENTITY_RESPONSE"
	ActionTriggerScout     Action = "TRIGGER_SCOUT"
)

// QueryTypeRoster tags questions asking who currently holds a role, which
// retrieval treats with a stricter source-trust policy.
const QueryTypeRoster = "roster"

// Decision is the router's output for one turn. It is derived, consumed
// immediately, and never persisted as its own record.
type Decision struct {
	Action        Action
	Domain        string
	QueryType     string
	TimeSensitive bool
	Topic         string
	Fields        map[string]string
	// Warning is set when an explicit instruction could not be parsed and
	// the turn degraded to CHAT.
	Warning string
	Hint    *Hint
}

// Hint is a parsed search-behavior instruction.
type Hint struct {
	Pattern string
	Rules   storage.PolicyRules
}

var identityPhrases = []string{
	"who are you", "what are you", "what can you do", "what is your purpose",
	"your purpose", "how do you work", "how do you function",
	"where does your knowledge come from", "what are your limitations",
}

var (
	correctionRes = []*regexp.Regexp{
		regexp.MustCompile(`that'?s (wrong|incorrect|not right|false)`),
		regexp.MustCompile(`\bactually,? (it'?s|it is|the)\b`),
		regexp.MustCompile(`\bis actually\b`),
		regexp.MustCompile(`you should have used\b`),
		regexp.MustCompile(`you'?re (wrong|mistaken)`),
	}

	correctedFactRe = regexp.MustCompile(`(?i)(\w[\w' ]*?)\s+(?:is|was) actually\s+(.+?)(?:\.|!|$)`)

	searchHintRe = regexp.MustCompile(`(?i)from now on,?\s+when(?:ever)? i ask about\s+(.+?)[,:]\s*(.+)$`)

	priceRes = []*regexp.Regexp{
		regexp.MustCompile(`(?:current |stock |share )?price (?:of|for)\s+(.+?)(?:\?|\.|$)`),
		regexp.MustCompile(`how much (?:is|does)\s+(.+?)\s+(?:worth|cost|trading)`),
	}

	weatherRes = []*regexp.Regexp{
		regexp.MustCompile(`(?:weather|temperature|forecast)\s+(?:in|for|at)\s+(.+?)(?:\?|\.|$)`),
		regexp.MustCompile(`(?:what'?s|how'?s) the weather`),
		regexp.MustCompile(`is it (?:raining|snowing|sunny|cold|hot|warm)\b`),
	}

	rememberRe    = regexp.MustCompile(`(?i)^remember(?: that)?\s+(.+)$`)
	memoryReadRes = []*regexp.Regexp{
		regexp.MustCompile(`what do you know about\s+(.+?)(?:\?|\.|$)`),
		regexp.MustCompile(`what did i tell you about\s+(.+?)(?:\?|\.|$)`),
		regexp.MustCompile(`^what do you (?:know|remember) about me`),
	}
	planningRes = []*regexp.Regexp{
		regexp.MustCompile(`^plan (?:how to|for|a|the|out)\b`),
		regexp.MustCompile(`help me plan\b`),
		regexp.MustCompile(`make (?:me )?a plan\b`),
	}

	whQuestionRe = regexp.MustCompile(`^(who|what|when|where|which)\b`)

	avoidSourceRe  = regexp.MustCompile(`(?:don'?t|never) use\s+([\w_ ]+?)(?:\s+and\b|[.,]|$)`)
	preferSourceRe = regexp.MustCompile(`(?:always )?(?:use|prefer|check)\s+([\w_ ]+?)(?: first)?(?:\s+and\b|[.,]|$)`)
)

// KnownTopics reports whether a topic already lives in semantic memory.
type KnownTopics interface {
	Knows(topic string) bool
}

// Router routes user text to an action using the classifier's signal.
type Router struct {
	classifier *classify.Classifier
	memory     KnownTopics
}

func NewRouter(classifier *classify.Classifier, memory KnownTopics) *Router {
	return &Router{classifier: classifier, memory: memory}
}

// Route evaluates the cascade. The classifier's time-sensitivity verdict is
// copied onto every branch, even CHAT, so downstream stages can force a
// cache bypass regardless of the chosen action.
func (r *Router) Route(text string) Decision {
	signal := r.classifier.Classify(text)
	lower := strings.ToLower(strings.TrimSpace(text))

	d := Decision{
		Action:        ActionChat,
		Domain:        string(signal.Domain),
		TimeSensitive: signal.TimeSensitive,
		Topic:         strings.TrimSpace(text),
		Fields:        map[string]string{},
	}

	switch {
	case matchesPhrase(lower, identityPhrases):
		d.Action = ActionIdentityResponse

	case matchesRe(correctionRes, lower):
		d.Action = ActionCorrection
		if m := correctedFactRe.FindStringSubmatch(text); m != nil {
			d.Fields["topic"] = lastWords(m[1], 2)
			d.Fields["corrected_fact"] = strings.TrimSpace(m[2])
			d.Topic = d.Fields["topic"]
		}

	case strings.Contains(lower, "from now on"):
		if hint, ok := parseSearchHint(text); ok {
			d.Action = ActionSearchHint
			d.Hint = &hint
			d.Topic = hint.Pattern
		} else {
			d.Warning = "could not parse search instruction"
		}

	case firstMatch(priceRes, lower) != "":
		d.Action = ActionPriceQuery
		d.Fields["asset"] = firstMatch(priceRes, lower)
		d.Topic = d.Fields["asset"]
		d.Domain = string(classify.DomainFinance)

	case matchesRe(weatherRes, lower):
		d.Action = ActionWeatherQuery
		if loc := firstMatch(weatherRes, lower); loc != "" {
			d.Fields["location"] = loc
		}
		d.Domain = string(classify.DomainWeather)

	case rememberRe.MatchString(text):
		d.Action = ActionMemoryWrite
		fact := strings.TrimSpace(rememberRe.FindStringSubmatch(text)[1])
		fact = strings.TrimPrefix(fact, "my ")
		d.Fields["fact"] = fact
		if topic, value, ok := splitFact(fact); ok {
			d.Fields["topic"] = topic
			d.Fields["value"] = value
			d.Topic = topic
		}

	case firstMatch(memoryReadRes, lower) != "" || matchesRe(memoryReadRes, lower):
		d.Action = ActionMemoryRead
		if topic := firstMatch(memoryReadRes, lower); topic != "" {
			d.Fields["topic"] = strings.TrimPrefix(topic, "my ")
			d.Topic = d.Fields["topic"]
		}

	case matchesRe(planningRes, lower):
		d.Action = ActionPlanning

	case signal.Domain == classify.DomainSports ||
		signal.Domain == classify.DomainNews ||
		signal.Domain == classify.DomainBestseller:
		d.Action = ActionTriggerScout
		if r.classifier.IsIdentityQuestion(text) {
			d.QueryType = QueryTypeRoster
		}

	case whQuestionRe.MatchString(lower) && !r.knownTopic(text):
		// A WH-question about something not in memory is worth a lookup.
		d.Action = ActionTriggerScout
	}

	return d
}

func (r *Router) knownTopic(text string) bool {
	if r.memory == nil {
		return false
	}
	return r.memory.Knows(strings.TrimSpace(text))
}

// parseSearchHint parses "from now on when I ask about X, <instruction>"
// into a policy pattern and rules. Unrecognized instructions fail the parse
// so the caller can degrade to CHAT with a warning.
func parseSearchHint(text string) (Hint, bool) {
	m := searchHintRe.FindStringSubmatch(text)
	if m == nil {
		return Hint{}, false
	}
	pattern := strings.ToLower(strings.TrimSpace(m[1]))
	instruction := strings.ToLower(strings.TrimSpace(m[2]))

	var rules storage.PolicyRules
	matched := false

	if m := avoidSourceRe.FindStringSubmatch(instruction); m != nil {
		rules.AvoidSource = []string{normalizeSource(m[1])}
		matched = true
	} else if m := preferSourceRe.FindStringSubmatch(instruction); m != nil {
		rules.PreferSource = []string{normalizeSource(m[1])}
		matched = true
	}
	if strings.Contains(instruction, "number") || strings.Contains(instruction, "numeric") || strings.Contains(instruction, "exact figure") {
		rules.RequireNumeric = true
		matched = true
	}
	if strings.Contains(instruction, "fresh") || strings.Contains(instruction, "don't cache") ||
		strings.Contains(instruction, "no cache") || strings.Contains(instruction, "skip the cache") {
		rules.AvoidCache = true
		matched = true
	}

	if !matched {
		return Hint{}, false
	}
	return Hint{Pattern: pattern, Rules: rules}, true
}

// normalizeSource maps spoken source names onto registry ids.
func normalizeSource(name string) string {
	name = strings.TrimSpace(name)
	switch name {
	case "coin gecko":
		return "coingecko"
	case "yahoo", "yahoo finance":
		return "yahoo_finance"
	case "the sports db", "sportsdb", "the sports database":
		return "thesportsdb"
	case "open meteo", "open-meteo":
		return "open_meteo"
	case "nyt", "new york times":
		return "nyt_books"
	case "open library":
		return "openlibrary"
	case "news api":
		return "newsapi"
	}
	return strings.ReplaceAll(name, " ", "_")
}

// splitFact breaks "favorite language is Python" into topic and value.
func splitFact(fact string) (topic, value string, ok bool) {
	for _, sep := range []string{" is ", " are ", " = "} {
		if i := strings.Index(fact, sep); i > 0 {
			return strings.TrimSpace(fact[:i]), strings.TrimSpace(fact[i+len(sep):]), true
		}
	}
	return "", "", false
}

// lastWords returns the trailing n words of s, dropping filler lead-ins
// like "that's wrong, bitcoin" down to "bitcoin".
func lastWords(s string, n int) string {
	words := strings.Fields(strings.Trim(s, " ,"))
	start := 0
	for i, w := range words {
		if strings.HasSuffix(w, ",") {
			start = i + 1
		}
	}
	words = words[start:]
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

func matchesPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func matchesRe(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func firstMatch(res []*regexp.Regexp, text string) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil && len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
