package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// OpenMeteoFetcher resolves a location with the Open-Meteo geocoder and
// returns its current conditions. Keyless.
type OpenMeteoFetcher struct {
	http       *httpSource
	BaseURL    string
	GeocodeURL string
}

func NewOpenMeteoFetcher() *OpenMeteoFetcher {
	return &OpenMeteoFetcher{
		http:       newHTTPSource(defaultTimeout),
		BaseURL:    "https://api.open-meteo.com/v1/forecast",
		GeocodeURL: "https://geocoding-api.open-meteo.com/v1/search",
	}
}

func (f *OpenMeteoFetcher) ID() string { return "open_meteo" }

func (f *OpenMeteoFetcher) Fetch(ctx context.Context, query string) (Result, error) {
	location := extractLocation(query)
	if location == "" {
		return NotFound(f.ID()), nil
	}

	params := url.Values{}
	params.Set("name", location)
	params.Set("count", "1")

	var geo struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.GeocodeURL, params, &geo); err != nil {
		return NotFound(f.ID()), err
	}
	if len(geo.Results) == 0 {
		return NotFound(f.ID()), nil
	}
	place := geo.Results[0]

	params = url.Values{}
	params.Set("latitude", strconv.FormatFloat(place.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(place.Longitude, 'f', 4, 64))
	params.Set("current_weather", "true")

	var weather struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			Windspeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := f.http.getJSON(ctx, f.ID(), f.BaseURL, params, &weather); err != nil {
		return NotFound(f.ID()), err
	}

	cw := weather.CurrentWeather
	summary := fmt.Sprintf("Current weather in %s, %s: %.1f°C, wind %.0f km/h.",
		place.Name, place.Country, cw.Temperature, cw.Windspeed)
	res := Found(f.ID(), summary, 0.9)
	res.Payload = map[string]any{
		"location":    place.Name,
		"temperature": cw.Temperature,
		"windspeed":   cw.Windspeed,
	}
	return res, nil
}

// extractLocation pulls the place name out of a weather question.
func extractLocation(query string) string {
	q := strings.ToLower(strings.TrimRight(strings.TrimSpace(query), "?"))

	for _, marker := range []string{" in ", " at ", " for "} {
		if i := strings.LastIndex(q, marker); i >= 0 {
			loc := strings.TrimSpace(q[i+len(marker):])
			loc = strings.TrimSuffix(loc, " today")
			loc = strings.TrimSuffix(loc, " right now")
			loc = strings.TrimSuffix(loc, " now")
			return loc
		}
	}

	drop := map[string]bool{
		"what": true, "whats": true, "what's": true, "is": true, "the": true,
		"weather": true, "temperature": true, "forecast": true, "like": true,
		"today": true, "now": true, "current": true, "right": true,
	}
	var kept []string
	for _, w := range strings.Fields(q) {
		if !drop[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
