package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "scout/1.0 (local research agent)"
	maxBodySize    = 2 << 20 // 2MB
)

// httpSource is the shared transport for HTTP-backed fetchers. Every request
// carries a hard timeout so a stuck upstream counts as a failure for that
// attempt instead of stalling the whole retrieval.
type httpSource struct {
	client  *http.Client
	headers map[string]string
}

func newHTTPSource(timeout time.Duration) *httpSource {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &httpSource{
		client: &http.Client{Timeout: timeout},
	}
}

// getJSON performs a GET and decodes the JSON response into v.
// Failures come back as *SourceError with the kind classified.
func (h *httpSource) getJSON(ctx context.Context, source, rawURL string, params url.Values, v any) error {
	body, err := h.get(ctx, source, rawURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &SourceError{Source: source, Kind: ErrParse, Err: err}
	}
	return nil
}

// get performs a GET and returns the raw body, capped at maxBodySize.
func (h *httpSource) get(ctx context.Context, source, rawURL string, params url.Values) ([]byte, error) {
	u := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		u = rawURL + sep + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &SourceError{Source: source, Kind: ErrTransport, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		kind := ErrTransport
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			kind = ErrTimeout
		} else if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrTimeout
		}
		return nil, &SourceError{Source: source, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &SourceError{
			Source: source,
			Kind:   ErrTransport,
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &SourceError{Source: source, Kind: ErrTransport, Err: err}
	}
	return body, nil
}

// cleanText normalizes whitespace and truncates at a word boundary.
func cleanText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
