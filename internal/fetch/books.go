package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// OpenLibraryFetcher searches Open Library for books and authors. Keyless.
type OpenLibraryFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewOpenLibraryFetcher() *OpenLibraryFetcher {
	return &OpenLibraryFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://openlibrary.org/search.json",
	}
}

func (f *OpenLibraryFetcher) ID() string { return "openlibrary" }

func (f *OpenLibraryFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	params := url.Values{}
	params.Set("q", stripQuestionPrefix(query))
	params.Set("limit", "1")
	params.Set("fields", "title,author_name,first_publish_year,key")

	var resp struct {
		Docs []struct {
			Title            string   `json:"title"`
			AuthorName       []string `json:"author_name"`
			FirstPublishYear int      `json:"first_publish_year"`
			Key              string   `json:"key"`
		} `json:"docs"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	if len(resp.Docs) == 0 {
		return NotFound(f.ID()), nil
	}

	doc := resp.Docs[0]
	author := "unknown author"
	if len(doc.AuthorName) > 0 {
		author = doc.AuthorName[0]
	}
	summary := fmt.Sprintf("%q by %s", doc.Title, author)
	if doc.FirstPublishYear > 0 {
		summary += fmt.Sprintf(", first published %d", doc.FirstPublishYear)
	}
	res := Found(f.ID(), summary+".", 0.7)
	res.URL = "https://openlibrary.org" + doc.Key
	return res, nil
}

// NYTBooksFetcher returns the current NYT bestseller list. Requires an API
// key; without one it reports NOT_FOUND.
type NYTBooksFetcher struct {
	http    *httpSource
	BaseURL string
	apiKey  string
}

func NewNYTBooksFetcher(apiKey string) *NYTBooksFetcher {
	return &NYTBooksFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://api.nytimes.com/svc/books/v3",
		apiKey:  apiKey,
	}
}

func (f *NYTBooksFetcher) ID() string { return "nyt_books" }

func (f *NYTBooksFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	if f.apiKey == "" {
		return NotFound(f.ID()), nil
	}

	list := "combined-print-and-e-book-fiction"
	if strings.Contains(strings.ToLower(query), "nonfiction") ||
		strings.Contains(strings.ToLower(query), "non-fiction") {
		list = "combined-print-and-e-book-nonfiction"
	}

	params := url.Values{}
	params.Set("api-key", f.apiKey)

	var resp struct {
		Results struct {
			Books []struct {
				Rank   int    `json:"rank"`
				Title  string `json:"title"`
				Author string `json:"author"`
			} `json:"books"`
		} `json:"results"`
	}
	endpoint := fmt.Sprintf("%s/lists/current/%s.json", f.BaseURL, list)
	if err := f.http.getJSON(ctx, f.ID(), endpoint, params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	if len(resp.Results.Books) == 0 {
		return NotFound(f.ID()), nil
	}

	var top []string
	for _, b := range resp.Results.Books {
		if b.Rank > 3 {
			break
		}
		top = append(top, fmt.Sprintf("#%d %q by %s", b.Rank, b.Title, b.Author))
	}
	summary := "Current NYT bestsellers: " + strings.Join(top, "; ") + "."
	return Found(f.ID(), summary, 0.9), nil
}
