package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// WikidataFetcher queries the Wikidata entity search API for structured
// facts about named entities.
type WikidataFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewWikidataFetcher() *WikidataFetcher {
	return &WikidataFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://www.wikidata.org/w/api.php",
	}
}

func (f *WikidataFetcher) ID() string { return "wikidata" }

func (f *WikidataFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	entity := stripQuestionPrefix(query)

	params := url.Values{}
	params.Set("action", "wbsearchentities")
	params.Set("search", entity)
	params.Set("language", "en")
	params.Set("format", "json")
	params.Set("limit", "3")

	var resp struct {
		Search []struct {
			ID          string `json:"id"`
			Label       string `json:"label"`
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"search"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	if len(resp.Search) == 0 || resp.Search[0].Description == "" {
		return NotFound(f.ID()), nil
	}

	hit := resp.Search[0]
	res := Found(f.ID(), fmt.Sprintf("%s: %s", hit.Label, cleanText(hit.Description, 400)), 0.75)
	res.URL = "https:" + hit.URL
	res.Payload = map[string]any{"entity_id": hit.ID, "label": hit.Label}
	return res, nil
}

// DBpediaFetcher queries the DBpedia lookup service for entity abstracts.
type DBpediaFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewDBpediaFetcher() *DBpediaFetcher {
	return &DBpediaFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://lookup.dbpedia.org/api/search",
	}
}

func (f *DBpediaFetcher) ID() string { return "dbpedia" }

func (f *DBpediaFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	params := url.Values{}
	params.Set("query", stripQuestionPrefix(query))
	params.Set("format", "json")
	params.Set("maxResults", "1")

	var resp struct {
		Docs []struct {
			Label    []string `json:"label"`
			Comment  []string `json:"comment"`
			Resource []string `json:"resource"`
		} `json:"docs"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	if len(resp.Docs) == 0 || len(resp.Docs[0].Comment) == 0 {
		return NotFound(f.ID()), nil
	}

	doc := resp.Docs[0]
	summary := cleanText(stripMarkup(doc.Comment[0]), 400)
	res := Found(f.ID(), summary, 0.7)
	if len(doc.Resource) > 0 {
		res.URL = doc.Resource[0]
	}
	return res, nil
}

// WikipediaFetcher searches the Wikipedia API and returns the intro extract
// of the best-matching article.
type WikipediaFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewWikipediaFetcher() *WikipediaFetcher {
	return &WikipediaFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://en.wikipedia.org/w/api.php",
	}
}

func (f *WikipediaFetcher) ID() string { return "wikipedia" }

func (f *WikipediaFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", stripQuestionPrefix(query))
	params.Set("srlimit", "1")
	params.Set("format", "json")

	var search struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &search); err != nil {
		return NotFound(f.ID()), err
	}
	if len(search.Query.Search) == 0 {
		return NotFound(f.ID()), nil
	}
	title := search.Query.Search[0].Title

	params = url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("titles", title)
	params.Set("format", "json")

	var extract struct {
		Query struct {
			Pages map[string]struct {
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &extract); err != nil {
		return NotFound(f.ID()), err
	}
	for _, page := range extract.Query.Pages {
		if page.Extract == "" {
			continue
		}
		res := Found(f.ID(), cleanText(page.Extract, 500), 0.8)
		res.URL = "https://en.wikipedia.org/wiki/" + strings.ReplaceAll(title, " ", "_")
		res.Payload = map[string]any{"title": title}
		return res, nil
	}
	return NotFound(f.ID()), nil
}

// stripQuestionPrefix removes leading interrogative phrasing so entity
// search sees the subject, not the question.
func stripQuestionPrefix(query string) string {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)
	for _, prefix := range []string{
		"who is the current ", "what is the current ",
		"who is ", "who's ", "who are ", "what is ", "what's ", "what are ",
		"where is ", "when was ", "define ", "tell me about ",
	} {
		if strings.HasPrefix(lower, prefix) {
			q = q[len(prefix):]
			break
		}
	}
	return strings.TrimRight(strings.TrimSpace(q), "?")
}

func stripMarkup(s string) string {
	s = strings.ReplaceAll(s, "<B>", "")
	s = strings.ReplaceAll(s, "</B>", "")
	return s
}
