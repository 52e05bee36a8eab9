package feedback

import (
	"sort"
	"strings"

	"github.com/kalambet/scout/internal/storage"
)

// domainVocab infers a retrieval domain from correction text when the
// feedback carries no explicit topic.
var domainVocab = map[string][]string{
	"sports":  {"game", "score", "team", "sports", "quarterback", "roster"},
	"finance": {"price", "stock", "bitcoin", "crypto", "market"},
	"weather": {"weather", "temperature", "forecast"},
	"news":    {"news", "headline", "election", "president"},
}

// Learner recomputes retrieval policies from the full feedback history.
// Running it twice over the same history yields the same policy set, so
// the pipeline can re-learn after every new event without drift.
type Learner struct{}

func NewLearner() *Learner { return &Learner{} }

// Apply derives one SearchPolicy per domain that the feedback history
// mentions: the most-named preferred tool per domain becomes prefer_source,
// and repeated time-sensitivity complaints set avoid_cache. The caller
// replaces the stored policy set wholesale with the result.
func (l *Learner) Apply(events []storage.FeedbackEvent) []storage.SearchPolicy {
	type tally struct {
		tools     map[string]int
		timeNotes int
	}
	byDomain := make(map[string]*tally)
	get := func(domain string) *tally {
		t, ok := byDomain[domain]
		if !ok {
			t = &tally{tools: make(map[string]int)}
			byDomain[domain] = t
		}
		return t
	}

	for _, e := range events {
		domain := inferDomain(e.RawText)
		if domain == "" {
			continue
		}
		isCorrection := false
		for _, t := range e.Types {
			if strings.HasPrefix(t, "CORRECTION") {
				isCorrection = true
				break
			}
		}
		t := get(domain)
		if isCorrection {
			for _, tool := range e.PreferredTools {
				t.tools[tool]++
			}
		}
		if e.TimeNotes != "" {
			t.timeNotes++
		}
	}

	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var policies []storage.SearchPolicy
	for _, domain := range domains {
		t := byDomain[domain]
		rules := storage.PolicyRules{}

		if tool := topTool(t.tools); tool != "" {
			rules.PreferSource = []string{tool}
		}
		// Two complaints about stale data make the domain cache-averse.
		if t.timeNotes >= 2 {
			rules.AvoidCache = true
		}
		if len(rules.PreferSource) == 0 && !rules.AvoidCache {
			continue
		}
		policies = append(policies, storage.SearchPolicy{Pattern: domain, Rules: rules})
	}
	return policies
}

// ToolStats aggregates per-source success rates from the tool use log.
type ToolStats struct {
	Tool        string  `json:"tool"`
	Total       int     `json:"total"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats computes success rates per tool, ordered by tool name.
func (l *Learner) Stats(events []storage.ToolUseEvent) []ToolStats {
	byTool := make(map[string]*ToolStats)
	for _, e := range events {
		s, ok := byTool[e.Tool]
		if !ok {
			s = &ToolStats{Tool: e.Tool}
			byTool[e.Tool] = s
		}
		s.Total++
		if e.Success {
			s.Successes++
		}
	}

	out := make([]ToolStats, 0, len(byTool))
	for _, s := range byTool {
		if s.Total > 0 {
			s.SuccessRate = float64(s.Successes) / float64(s.Total)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

func inferDomain(text string) string {
	lower := strings.ToLower(text)
	// Fixed check order keeps inference deterministic when vocabularies overlap.
	for _, domain := range []string{"sports", "finance", "weather", "news"} {
		for _, w := range domainVocab[domain] {
			if strings.Contains(lower, w) {
				return domain
			}
		}
	}
	return ""
}

// topTool returns the most-named tool, breaking count ties by name so the
// result is stable across runs.
func topTool(counts map[string]int) string {
	best := ""
	bestCount := 0
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}
	return best
}
