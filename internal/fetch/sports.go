package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// SportsDBFetcher queries TheSportsDB free tier for team and league
// information. It is the authoritative tier-1 source for sports queries.
type SportsDBFetcher struct {
	http    *httpSource
	BaseURL string
}

func NewSportsDBFetcher() *SportsDBFetcher {
	return &SportsDBFetcher{
		http:    newHTTPSource(defaultTimeout),
		BaseURL: "https://www.thesportsdb.com/api/v1/json/3",
	}
}

func (f *SportsDBFetcher) ID() string { return "thesportsdb" }

func (f *SportsDBFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	team := extractTeamName(query)
	if team == "" {
		return NotFound(f.ID()), nil
	}

	params := url.Values{}
	params.Set("t", team)

	var resp struct {
		Teams []struct {
			Name    string `json:"strTeam"`
			League  string `json:"strLeague"`
			Sport   string `json:"strSport"`
			Stadium string `json:"strStadium"`
			Website string `json:"strWebsite"`
		} `json:"teams"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL+"/searchteams.php", params, &resp); err != nil {
		return NotFound(f.ID()), err
	}
	if len(resp.Teams) == 0 {
		return NotFound(f.ID()), nil
	}

	t := resp.Teams[0]
	summary := fmt.Sprintf("%s play %s in the %s; home stadium %s.",
		t.Name, t.Sport, t.League, t.Stadium)
	res := Found(f.ID(), summary, 0.8)
	if t.Website != "" {
		res.URL = "https://" + strings.TrimPrefix(t.Website, "www.")
	}
	res.Payload = map[string]any{"team": t.Name, "league": t.League}
	return res, nil
}

// extractTeamName pulls the likely team name out of a sports question by
// dropping interrogative and role words ("who is the quarterback for the X").
func extractTeamName(query string) string {
	q := strings.ToLower(strings.TrimRight(strings.TrimSpace(query), "?"))

	for _, marker := range []string{" for the ", " of the ", " for ", " of "} {
		if i := strings.LastIndex(q, marker); i >= 0 {
			return strings.TrimSpace(q[i+len(marker):])
		}
	}

	drop := map[string]bool{
		"who": true, "what": true, "is": true, "are": true, "the": true,
		"current": true, "team": true, "score": true, "game": true,
		"quarterback": true, "coach": true, "pitcher": true, "roster": true,
	}
	var kept []string
	for _, w := range strings.Fields(q) {
		if !drop[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
