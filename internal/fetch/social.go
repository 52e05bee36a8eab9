package fetch

import (
	"context"
	"fmt"
	"net/url"
)

// RedditFetcher searches Reddit posts. Social discussion is the least
// trusted source class; the engine's fast paths exclude it entirely for
// roster/identity queries.
type RedditFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewRedditFetcher() *RedditFetcher {
	return &RedditFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://www.reddit.com/search.json",
	}
}

func (f *RedditFetcher) ID() string { return "reddit" }

func (f *RedditFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", "relevance")
	params.Set("limit", "5")

	var resp struct {
		Data struct {
			Children []struct {
				Data struct {
					Title     string  `json:"title"`
					Selftext  string  `json:"selftext"`
					Subreddit string  `json:"subreddit"`
					Permalink string  `json:"permalink"`
					Upvotes   float64 `json:"ups"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &resp); err != nil {
		return NotFound(f.ID()), err
	}

	terms := queryTerms(query)
	for _, child := range resp.Data.Children {
		post := child.Data
		// Relevance gate: the post must actually mention the query terms.
		if matchCount(post.Title+" "+post.Selftext, terms) < minTermMatches(terms) {
			continue
		}
		summary := fmt.Sprintf("r/%s discussion: %s", post.Subreddit, cleanText(post.Title, 200))
		if post.Selftext != "" {
			summary += " — " + cleanText(post.Selftext, 250)
		}
		res := Found(f.ID(), summary, 0.6)
		res.URL = "https://www.reddit.com" + post.Permalink
		res.Payload = map[string]any{"subreddit": post.Subreddit, "upvotes": post.Upvotes}
		return res, nil
	}
	return NotFound(f.ID()), nil
}
