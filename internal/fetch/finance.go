package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// tickerSymbols maps common company names to stock tickers so a natural
// question ("stock price of Tesla") can hit the quote API directly.
var tickerSymbols = map[string]string{
	"apple":     "AAPL",
	"microsoft": "MSFT",
	"tesla":     "TSLA",
	"amazon":    "AMZN",
	"google":    "GOOGL",
	"alphabet":  "GOOGL",
	"nvidia":    "NVDA",
	"meta":      "META",
	"netflix":   "NFLX",
}

// YahooFinanceFetcher returns the latest quote for a recognized ticker.
type YahooFinanceFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewYahooFinanceFetcher() *YahooFinanceFetcher {
	return &YahooFinanceFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
	}
}

func (f *YahooFinanceFetcher) ID() string { return "yahoo_finance" }

func (f *YahooFinanceFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	symbol := resolveTicker(query)
	if symbol == "" {
		return NotFound(f.ID()), nil
	}

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	var resp struct {
		Chart struct {
			Result []struct {
				Meta struct {
					Symbol             string  `json:"symbol"`
					RegularMarketPrice float64 `json:"regularMarketPrice"`
					Currency           string  `json:"currency"`
				} `json:"meta"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL+"/"+symbol, params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	if len(resp.Chart.Result) == 0 || resp.Chart.Result[0].Meta.RegularMarketPrice == 0 {
		return NotFound(f.ID()), nil
	}

	meta := resp.Chart.Result[0].Meta
	summary := fmt.Sprintf("%s is trading at %.2f %s.", meta.Symbol, meta.RegularMarketPrice, meta.Currency)
	res := Found(f.ID(), summary, 0.9)
	res.Payload = map[string]any{"symbol": meta.Symbol, "price": meta.RegularMarketPrice}
	return res, nil
}

func resolveTicker(query string) string {
	q := strings.ToLower(query)
	for name, symbol := range tickerSymbols {
		if strings.Contains(q, name) {
			return symbol
		}
	}
	// Bare uppercase token that looks like a ticker.
	for _, w := range strings.Fields(strings.TrimRight(query, "?")) {
		if len(w) >= 2 && len(w) <= 5 && w == strings.ToUpper(w) && isAlpha(w) {
			return w
		}
	}
	return ""
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// coinIDs maps common cryptocurrency names to CoinGecko ids.
var coinIDs = map[string]string{
	"bitcoin":  "bitcoin",
	"btc":      "bitcoin",
	"ethereum": "ethereum",
	"eth":      "ethereum",
	"solana":   "solana",
	"dogecoin": "dogecoin",
}

// CoinGeckoFetcher returns current USD prices for well-known
// cryptocurrencies. Keyless.
type CoinGeckoFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewCoinGeckoFetcher() *CoinGeckoFetcher {
	return &CoinGeckoFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://api.coingecko.com/api/v3/simple/price",
	}
}

func (f *CoinGeckoFetcher) ID() string { return "coingecko" }

func (f *CoinGeckoFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	coin := ""
	q := strings.ToLower(query)
	for name, id := range coinIDs {
		if strings.Contains(q, name) {
			coin = id
			break
		}
	}
	if coin == "" {
		return NotFound(f.ID()), nil
	}

	params := url.Values{}
	params.Set("ids", coin)
	params.Set("vs_currencies", "usd")

	var resp map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	entry, ok := resp[coin]
	if !ok || entry.USD == 0 {
		return NotFound(f.ID()), nil
	}

	summary := fmt.Sprintf("%s is currently worth $%.2f USD.", capitalize(coin), entry.USD)
	res := Found(f.ID(), summary, 0.9)
	res.Payload = map[string]any{"coin": coin, "usd": entry.USD}
	return res, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
