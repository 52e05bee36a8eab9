package fetch

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// LocalCorpusFetcher searches a local notes directory (.txt, .md, .pdf) for
// documents matching the query. Works fully offline, so it never times out,
// but it still honors ctx between files.
type LocalCorpusFetcher struct {
	Dir string
}

func NewLocalCorpusFetcher(dir string) *LocalCorpusFetcher {
	return &LocalCorpusFetcher{Dir: dir}
}

func (f *LocalCorpusFetcher) ID() string { return "local_corpus" }

func (f *LocalCorpusFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	if f.Dir == "" {
		return NotFound(f.ID()), nil
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		return NotFound(f.ID()), nil
	}

	bestScore := 0
	var bestPath, bestSnippet string

	err := filepath.WalkDir(f.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var text string
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			text = string(data)
		case ".pdf":
			text = readPDFText(path)
		default:
			return nil
		}
		if text == "" {
			return nil
		}

		score := matchCount(text, terms)
		if score > bestScore {
			bestScore = score
			bestPath = path
			bestSnippet = snippetAround(text, terms[0])
		}
		return nil
	})
	if err != nil {
		return NotFound(f.ID()), &SourceError{Source: f.ID(), Kind: ErrTransport, Err: err}
	}

	if bestScore < minTermMatches(terms) {
		return NotFound(f.ID()), nil
	}

	// Confidence scales with how many query terms the document covers.
	confidence := 0.5 + 0.1*float64(bestScore)
	res := Found(f.ID(), cleanText(bestSnippet, 400), confidence)
	res.URL = bestPath
	res.Payload = map[string]any{"path": bestPath, "term_matches": bestScore}
	return res, nil
}

// readPDFText extracts plain text from a PDF, returning "" on any failure.
func readPDFText(path string) string {
	f, r, err := pdf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return ""
	}
	return buf.String()
}

// snippetAround returns the region of text surrounding the first occurrence
// of term.
func snippetAround(text, term string) string {
	lower := strings.ToLower(text)
	i := strings.Index(lower, term)
	if i < 0 {
		i = 0
	}
	start := i - 120
	if start < 0 {
		start = 0
	}
	end := i + 280
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}
