package fetch

import (
	"sort"
	"strings"
)

// Registry holds all registered fetchers and maps domain keywords to
// candidates. It only ranks; execution order and stop conditions belong to
// the retrieval engine.
type Registry struct {
	fetchers map[string]Fetcher
	keywords map[string][]string
	order    []string // registration order, used for stable tie-breaks
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		fetchers: make(map[string]Fetcher),
		keywords: make(map[string][]string),
	}
}

// Register adds a fetcher with its capability keywords. Registering the same
// ID twice replaces the fetcher but keeps its original position in the
// tie-break order.
func (r *Registry) Register(f Fetcher, keywords ...string) {
	id := f.ID()
	if _, exists := r.fetchers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.fetchers[id] = f
	kws := make([]string, len(keywords))
	for i, k := range keywords {
		kws[i] = strings.ToLower(k)
	}
	r.keywords[id] = kws
}

// Lookup returns the fetcher registered under id, or nil.
func (r *Registry) Lookup(id string) Fetcher {
	return r.fetchers[id]
}

// IDs returns all registered fetcher ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered fetchers.
func (r *Registry) Len() int { return len(r.fetchers) }

// Candidates returns fetcher ids ranked by keyword-overlap score with the
// query, descending. Multi-word keywords weigh their word count so phrase
// matches outrank single-token hits. Ties break by registration order.
func (r *Registry) Candidates(query string) []string {
	q := strings.ToLower(query)

	pos := make(map[string]int, len(r.order))
	for i, id := range r.order {
		pos[id] = i
	}

	type scored struct {
		id    string
		score int
	}
	var ranked []scored
	for _, id := range r.order {
		score := 0
		for _, kw := range r.keywords[id] {
			if strings.Contains(q, kw) {
				score += len(strings.Fields(kw))
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{id: id, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return pos[ranked[i].id] < pos[ranked[j].id]
	})

	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.id
	}
	return out
}
