package fetch

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// WebPageFetcher scans a curated set of web pages for paragraphs matching
// the query. It is the HTML counterpart of the RSS fetcher for sites that
// publish no feed.
type WebPageFetcher struct {
	http  *httpSource
	Pages []string
}

func NewWebPageFetcher(pages []string) *WebPageFetcher {
	return &WebPageFetcher{http: newHTTPSource(defaultTimeout), Pages: pages}
}

func (f *WebPageFetcher) ID() string { return "webpage" }

func (f *WebPageFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	terms := queryTerms(query)
	if len(terms) == 0 || len(f.Pages) == 0 {
		return NotFound(f.ID()), nil
	}

	var lastErr error
	for _, page := range f.Pages {
		body, err := f.http.get(ctx, f.ID(), page, nil)
		if err != nil {
			lastErr = err
			continue
		}
		title, paragraphs, err := extractText(string(body))
		if err != nil {
			lastErr = &SourceError{Source: f.ID(), Kind: ErrParse, Err: err}
			continue
		}
		for _, p := range paragraphs {
			if matchCount(p, terms) >= minTermMatches(terms) {
				summary := cleanText(p, 400)
				if title != "" {
					summary = title + ": " + summary
				}
				res := Found(f.ID(), summary, 0.55)
				res.URL = page
				return res, nil
			}
		}
	}
	if lastErr != nil {
		return NotFound(f.ID()), lastErr
	}
	return NotFound(f.ID()), nil
}

// extractText walks the HTML tree collecting the page title and the text of
// each paragraph element.
func extractText(doc string) (title string, paragraphs []string, err error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", nil, err
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					title = strings.TrimSpace(nodeText(n))
				}
			case "p":
				if t := strings.TrimSpace(nodeText(n)); t != "" {
					paragraphs = append(paragraphs, t)
				}
				return
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return title, paragraphs, nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
