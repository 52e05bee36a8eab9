package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SCOUT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "SCOUT_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SCOUT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "SCOUT_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SCOUT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.max_fetchers", typ: kInt, env: "SCOUT_RETRIEVAL_MAX_FETCHERS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxFetchers = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxFetchers },
	},
	{
		key: "retrieval.min_confidence", typ: kFloat, env: "SCOUT_RETRIEVAL_MIN_CONFIDENCE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinConfidence = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinConfidence },
	},
	{
		key: "sources.newsapi_key", typ: kString, env: "SCOUT_NEWSAPI_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Sources.NewsAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Sources.NewsAPIKey },
	},
	{
		key: "sources.nyt_books_key", typ: kString, env: "SCOUT_NYT_BOOKS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Sources.NYTBooksKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Sources.NYTBooksKey },
	},
	{
		key: "sources.rss_feeds", typ: kString, env: "SCOUT_SOURCES_RSS_FEEDS",
		apply:   func(cfg *Config, v any) { cfg.Sources.RSSFeeds = splitList(v.(string)) },
		extract: func(cfg Config) any { return strings.Join(cfg.Sources.RSSFeeds, ",") },
	},
	{
		key: "sources.web_pages", typ: kString, env: "SCOUT_SOURCES_WEB_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Sources.WebPages = splitList(v.(string)) },
		extract: func(cfg Config) any { return strings.Join(cfg.Sources.WebPages, ",") },
	},
	{
		key: "sources.corpus_dir", typ: kString, env: "SCOUT_SOURCES_CORPUS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Sources.CorpusDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Sources.CorpusDir },
	},
	{
		key: "log.level", typ: kString, env: "SCOUT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// splitList parses a comma-separated backend or env value into a clean slice.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
