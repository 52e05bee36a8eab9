package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// NewsAPIFetcher queries newsapi.org for recent headlines. Requires an API
// key; without one every fetch reports NOT_FOUND so the engine falls
// through to the next tier.
type NewsAPIFetcher struct {
	http    *httpSource
	BaseURL string
	apiKey  string
}

func NewNewsAPIFetcher(apiKey string) *NewsAPIFetcher {
	return &NewsAPIFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://newsapi.org/v2",
		apiKey:  apiKey,
	}
}

func (f *NewsAPIFetcher) ID() string { return "newsapi" }

func (f *NewsAPIFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	if f.apiKey == "" {
		return NotFound(f.ID()), nil
	}

	params := url.Values{}
	params.Set("q", stripQuestionPrefix(query))
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", "3")
	params.Set("apiKey", f.apiKey)

	var resp struct {
		Articles []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL+"/everything", params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	if len(resp.Articles) == 0 {
		return NotFound(f.ID()), nil
	}

	a := resp.Articles[0]
	summary := fmt.Sprintf("%s (%s)", a.Title, a.Source.Name)
	if a.Description != "" {
		summary += ": " + cleanText(a.Description, 300)
	}
	res := Found(f.ID(), summary, 0.8)
	res.URL = a.URL
	return res, nil
}

// RSSFetcher scans a curated set of feeds for entries matching the query.
// Keyless fallback news source below NewsAPI.
type RSSFetcher struct {
	http  *httpSource
	Feeds []string
}

func NewRSSFetcher(feeds []string) *RSSFetcher {
	if len(feeds) == 0 {
		feeds = []string{
			"https://feeds.reuters.com/reuters/topNews",
			"https://feeds.bbci.co.uk/news/rss.xml",
			"https://news.google.com/rss",
		}
	}
	return &RSSFetcher{http: newHTTPSource(defaultTimeout), Feeds: feeds}
}

func (f *RSSFetcher) ID() string { return "rss" }

type rssDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

func (f *RSSFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	terms := queryTerms(query)

	var lastErr error
	for _, feed := range f.Feeds {
		body, err := f.http.get(ctx, f.ID(), feed, nil)
		if err != nil {
			lastErr = err
			continue
		}
		var doc rssDoc
		if err := xml.Unmarshal(body, &doc); err != nil {
			lastErr = &SourceError{Source: f.ID(), Kind: ErrParse, Err: err}
			continue
		}
		for _, item := range doc.Channel.Items {
			if matchCount(item.Title+" "+item.Description, terms) >= minTermMatches(terms) {
				summary := cleanText(item.Title, 200)
				if item.Description != "" {
					summary += ": " + cleanText(item.Description, 250)
				}
				res := Found(f.ID(), summary, 0.65)
				res.URL = item.Link
				res.Payload = map[string]any{"published": item.PubDate, "feed": feed}
				return res, nil
			}
		}
	}
	if lastErr != nil {
		return NotFound(f.ID()), lastErr
	}
	return NotFound(f.ID()), nil
}

// queryTerms keeps the query tokens long enough to be discriminating.
func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, "?.,!\"'")
		if len(w) > 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

func matchCount(text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

func minTermMatches(terms []string) int {
	if len(terms) <= 1 {
		return 1
	}
	return 2
}
