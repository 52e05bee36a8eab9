// Package scout is the knowledge retrieval engine. Given a topic and an
// optional domain hint it consults the cache, then either a domain fast
// path (hand-ordered trust tiers) or general keyword-ranked routing across
// the fetcher registry, and returns a single best result.
package scout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/scout/internal/fetch"
	"github.com/kalambet/scout/internal/storage"
)

// ErrNotFound is returned when every consulted source came up empty.
var ErrNotFound = errors.New("no source produced a result")

// Tier groups fetchers sharing one trust level within a domain fast path.
// Tiers are tried strictly in order; the first result at or above
// MinConfidence wins and later tiers are never consulted. A tier whose
// ExcludeFor matches the query type is skipped outright, whatever its
// fetchers might have returned.
type Tier struct {
	Sources       []string
	MinConfidence float64
	ExcludeFor    []string
}

// Options steer a single retrieval.
type Options struct {
	Domain         string
	QueryType      string // sub-tag such as "roster", checked against tier exclusions
	IgnoreCache    bool
	Policy         storage.PolicyRules
	ConversationID string
}

// Storage is the subset of the persistent store the engine needs.
type Storage interface {
	GetCache(key string, now time.Time) (storage.CacheEntry, error)
	PutCache(storage.CacheEntry) error
	AppendToolUse(storage.ToolUseEvent) error
}

// Engine executes the tiered retrieval protocol.
type Engine struct {
	registry    *fetch.Registry
	store       Storage
	log         *slog.Logger
	fastPaths   map[string][]Tier
	ttls        map[string]time.Duration
	defaultTTL  time.Duration
	maxFetchers int
	minGeneral  float64
	now         func() time.Time
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	FastPaths   map[string][]Tier
	TTLs        map[string]time.Duration
	DefaultTTL  time.Duration
	MaxFetchers int
	// MinGeneralConfidence is the acceptance floor on the general path.
	MinGeneralConfidence float64
}

func NewEngine(registry *fetch.Registry, store Storage, log *slog.Logger, cfg Config) *Engine {
	if cfg.FastPaths == nil {
		cfg.FastPaths = DefaultFastPaths()
	}
	if cfg.TTLs == nil {
		cfg.TTLs = DefaultTTLs()
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 6 * time.Hour
	}
	if cfg.MaxFetchers == 0 {
		cfg.MaxFetchers = 3
	}
	if cfg.MinGeneralConfidence == 0 {
		cfg.MinGeneralConfidence = 0.5
	}
	return &Engine{
		registry:    registry,
		store:       store,
		log:         log,
		fastPaths:   cfg.FastPaths,
		ttls:        cfg.TTLs,
		defaultTTL:  cfg.DefaultTTL,
		maxFetchers: cfg.MaxFetchers,
		minGeneral:  cfg.MinGeneralConfidence,
		now:         time.Now,
	}
}

// DefaultFastPaths returns the built-in tier tables. Tier order encodes
// trustworthiness per domain, not expected confidence.
func DefaultFastPaths() map[string][]Tier {
	return map[string][]Tier{
		"sports": {
			{Sources: []string{"thesportsdb"}, MinConfidence: 0.5},
			{Sources: []string{"wikidata", "wikipedia"}, MinConfidence: 0.5},
			{Sources: []string{"newsapi", "rss"}, MinConfidence: 0.6},
			{Sources: []string{"reddit"}, MinConfidence: 0.6, ExcludeFor: []string{"roster"}},
		},
		"news": {
			{Sources: []string{"newsapi"}, MinConfidence: 0.6},
			{Sources: []string{"rss"}, MinConfidence: 0.5},
			{Sources: []string{"reddit"}, MinConfidence: 0.6},
		},
		"bestseller": {
			{Sources: []string{"nyt_books"}, MinConfidence: 0.7},
			{Sources: []string{"openlibrary"}, MinConfidence: 0.5},
		},
	}
}

// DefaultTTLs returns the per-domain cache lifetimes.
func DefaultTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"news":       10 * time.Minute,
		"finance":    10 * time.Minute,
		"weather":    10 * time.Minute,
		"sports":     30 * time.Minute,
		"bestseller": 24 * time.Hour,
	}
}

// Retrieve runs the full protocol for one topic: cache check, domain fast
// path if configured, general routing otherwise. Returns ErrNotFound when
// every consulted source failed or came up empty; NOT_FOUND outcomes are
// never cached.
func (e *Engine) Retrieve(ctx context.Context, topic string, opts Options) (fetch.Result, error) {
	key := CacheKey(topic)
	if key == "" {
		return fetch.Result{}, fmt.Errorf("empty topic")
	}

	if !opts.IgnoreCache {
		if res, ok := e.cached(key); ok {
			e.log.Debug("cache hit", "key", key, "source", res.Source)
			return res, nil
		}
		e.log.Debug("cache miss", "key", key)
	}

	var (
		res fetch.Result
		ok  bool
	)
	if tiers, fast := e.fastPaths[opts.Domain]; fast {
		res, ok = e.fastPath(ctx, topic, tiers, opts)
	} else {
		res, ok = e.generalPath(ctx, topic, opts)
	}
	if !ok {
		return fetch.Result{}, ErrNotFound
	}

	e.cacheResult(key, opts.Domain, res)
	return res, nil
}

func (e *Engine) cached(key string) (fetch.Result, bool) {
	entry, err := e.store.GetCache(key, e.now())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.log.Warn("cache read failed", "key", key, "error", err)
		}
		return fetch.Result{}, false
	}
	var res fetch.Result
	if err := json.Unmarshal([]byte(entry.ResultJSON), &res); err != nil {
		e.log.Warn("discarding unreadable cache entry", "key", key, "error", err)
		return fetch.Result{}, false
	}
	return res, true
}

func (e *Engine) cacheResult(key, domain string, res fetch.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		e.log.Warn("cache write skipped", "key", key, "error", err)
		return
	}
	ttl, ok := e.ttls[domain]
	if !ok {
		ttl = e.defaultTTL
	}
	entry := storage.CacheEntry{
		Key:        key,
		ResultJSON: string(payload),
		ExpiresAt:  e.now().Add(ttl).UTC(),
	}
	if err := e.store.PutCache(entry); err != nil {
		e.log.Warn("cache write failed", "key", key, "error", err)
	}
}

// fastPath walks the tier table strictly in order. Within a tier fetchers
// run in declared order; the first result at or above the tier's floor
// short-circuits everything below it. Results are never pooled or re-ranked
// across tiers.
func (e *Engine) fastPath(ctx context.Context, topic string, tiers []Tier, opts Options) (fetch.Result, bool) {
	var excluded []string
	for _, tier := range tiers {
		if tierExcluded(tier, opts.QueryType) {
			e.log.Debug("tier excluded for query type",
				"sources", tier.Sources, "query_type", opts.QueryType)
			excluded = append(excluded, tier.Sources...)
			continue
		}
		for _, id := range tier.Sources {
			if avoided(opts.Policy.AvoidSource, id) {
				continue
			}
			f := e.registry.Lookup(id)
			if f == nil {
				continue
			}
			res, err := e.attempt(ctx, f, topic, opts.ConversationID)
			if err != nil || res.Status != fetch.StatusFound {
				continue
			}
			if res.Confidence >= tier.MinConfidence {
				return res, true
			}
		}
	}
	// Fast-path exhaustion falls back to general routing so a niche query
	// in a fast-path domain can still reach the reference sources. Sources
	// from excluded tiers stay excluded there too.
	opts.Policy.AvoidSource = append(append([]string(nil), opts.Policy.AvoidSource...), excluded...)
	return e.generalPath(ctx, topic, opts)
}

// generalPath ranks candidates by keyword overlap, applies the learned
// policy, and runs the top batch concurrently. Selection waits for the
// whole batch (blocking join) before picking the highest confidence.
func (e *Engine) generalPath(ctx context.Context, topic string, opts Options) (fetch.Result, bool) {
	ids := e.registry.Candidates(topic)
	if len(ids) == 0 {
		ids = append([]string(nil), fetch.GeneralFallbacks...)
	}
	ids = applyPolicy(ids, opts.Policy, e.log)
	if len(ids) > e.maxFetchers {
		ids = ids[:e.maxFetchers]
	}

	results := make([]fetch.Result, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		f := e.registry.Lookup(id)
		if f == nil {
			continue
		}
		g.Go(func() error {
			res, err := e.attempt(ctx, f, topic, opts.ConversationID)
			if err == nil {
				results[i] = res
			}
			// Per-source failures are absorbed; the batch always joins.
			return nil
		})
	}
	g.Wait()

	best := -1
	for i, res := range results {
		if res.Status != fetch.StatusFound {
			continue
		}
		if opts.Policy.RequireNumeric && !hasNumeric(res.Summary) {
			e.log.Debug("dropping non-numeric result", "source", res.Source)
			continue
		}
		if res.Confidence < e.minGeneral {
			continue
		}
		if best < 0 || res.Confidence > results[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return fetch.Result{}, false
	}
	return results[best], true
}

// attempt runs one fetcher and records the outcome for the learning loop.
// Errors are classified but collapse to a failed attempt for the caller.
func (e *Engine) attempt(ctx context.Context, f fetch.Fetcher, topic, conversationID string) (fetch.Result, error) {
	res, err := f.Fetch(ctx, topic)

	event := storage.ToolUseEvent{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Tool:           f.ID(),
		Query:          topic,
		Success:        err == nil && res.Status == fetch.StatusFound,
	}
	if err != nil {
		event.Error = err.Error()
		if se, ok := fetch.AsSourceError(err); ok {
			e.log.Debug("source failed", "source", f.ID(), "kind", se.Kind, "error", err)
		} else {
			e.log.Debug("source failed", "source", f.ID(), "error", err)
		}
	}
	if logErr := e.store.AppendToolUse(event); logErr != nil {
		e.log.Warn("tool use log failed", "source", f.ID(), "error", logErr)
	}
	return res, err
}

// applyPolicy drops avoided sources and moves preferred ones to the front,
// keeping relative order otherwise. Preferred sources not present in the
// candidate set are ignored rather than treated as an error.
func applyPolicy(ids []string, policy storage.PolicyRules, log *slog.Logger) []string {
	kept := ids[:0:0]
	for _, id := range ids {
		if avoided(policy.AvoidSource, id) {
			continue
		}
		kept = append(kept, id)
	}

	if len(policy.PreferSource) == 0 {
		return kept
	}
	var front, rest []string
	for _, pref := range policy.PreferSource {
		found := false
		for _, id := range kept {
			if id == pref {
				front = append(front, id)
				found = true
				break
			}
		}
		if !found {
			log.Debug("preferred source not a candidate", "source", pref)
		}
	}
	for _, id := range kept {
		if !avoided(front, id) {
			rest = append(rest, id)
		}
	}
	return append(front, rest...)
}

func avoided(list []string, id string) bool {
	for _, a := range list {
		if a == id {
			return true
		}
	}
	return false
}

func tierExcluded(tier Tier, queryType string) bool {
	if queryType == "" {
		return false
	}
	for _, ex := range tier.ExcludeFor {
		if ex == queryType {
			return true
		}
	}
	return false
}

func hasNumeric(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// CacheKey normalizes a topic into its cache key.
func CacheKey(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}
