// Package memory stores and recalls semantic facts the user has taught the
// agent, keyed by topic. Recall is exact by topic; Related does a cheap
// bag-of-words similarity pass so the agent can mention what it already
// knows about adjacent topics.
package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/scout/internal/storage"
)

// Store is the subset of the persistent store memory needs.
type Store interface {
	UpsertFact(storage.SemanticFact) error
	GetFact(topic string) (storage.SemanticFact, error)
	AllFacts() ([]storage.SemanticFact, error)
}

// Memory provides topic-keyed fact storage with fuzzy topic suggestion.
type Memory struct {
	store Store
}

func New(store Store) *Memory {
	return &Memory{store: store}
}

// Remember stores a fact under the normalized topic, overwriting any
// previous fact for the same topic.
func (m *Memory) Remember(topic, fact, source string) error {
	topic = NormalizeTopic(topic)
	if topic == "" {
		return fmt.Errorf("empty topic")
	}
	return m.store.UpsertFact(storage.SemanticFact{
		Topic:  topic,
		Fact:   fact,
		Source: source,
	})
}

// Recall returns the fact stored for topic, or storage.ErrNotFound.
func (m *Memory) Recall(topic string) (storage.SemanticFact, error) {
	return m.store.GetFact(NormalizeTopic(topic))
}

// Topics lists every known topic.
func (m *Memory) Topics() ([]string, error) {
	facts, err := m.store.AllFacts()
	if err != nil {
		return nil, err
	}
	topics := make([]string, 0, len(facts))
	for _, f := range facts {
		topics = append(topics, f.Topic)
	}
	return topics, nil
}

// Knows reports whether a fact exists for the topic.
func (m *Memory) Knows(topic string) bool {
	_, err := m.store.GetFact(NormalizeTopic(topic))
	return err == nil
}

const relatedThreshold = 0.15

// Related returns up to n known facts whose topic+fact text is similar to
// the given text, ranked by cosine similarity over word counts. Facts below
// the similarity threshold are not suggested at all.
func (m *Memory) Related(text string, n int) ([]storage.SemanticFact, error) {
	facts, err := m.store.AllFacts()
	if err != nil {
		return nil, err
	}
	qv := wordVector(text)
	if len(qv) == 0 {
		return nil, nil
	}

	type scored struct {
		fact  storage.SemanticFact
		score float64
	}
	var candidates []scored
	for _, f := range facts {
		score := cosine(qv, wordVector(f.Topic+" "+f.Fact))
		if score >= relatedThreshold {
			candidates = append(candidates, scored{fact: f, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]storage.SemanticFact, len(candidates))
	for i, c := range candidates {
		out[i] = c.fact
	}
	return out, nil
}

// NormalizeTopic lowercases and collapses whitespace so "Favorite  Language"
// and "favorite language" key the same fact.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

func wordVector(text string) map[string]int {
	v := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 2 {
			continue
		}
		v[w]++
	}
	return v
}

func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for w, c := range a {
		na += float64(c * c)
		if cb, ok := b[w]; ok {
			dot += float64(c * cb)
		}
	}
	for _, c := range b {
		nb += float64(c * c)
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
