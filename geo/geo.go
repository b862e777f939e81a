// Package geo resolves free-text job locations to coordinates using the
// Nominatim search API. Results are cached for the lifetime of the geocoder
// so repeated locations cost one lookup.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/alwedo/jobmart/scrape/retryhttp"
)

const (
	baseURL        = "https://nominatim.openstreetmap.org"
	searchEndpoint = "/search"
	paramQuery     = "q"
	paramFormat    = "format"
	paramLimit     = "limit"
)

type Point struct {
	Latitude  float64
	Longitude float64
}

type result struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

type Geocoder struct {
	client *retryhttp.Client
	logger *slog.Logger
	cache  sync.Map
}

func New(l *slog.Logger, opts ...retryhttp.Option) *Geocoder {
	return &Geocoder{
		client: retryhttp.New(opts...),
		logger: l,
		cache:  sync.Map{},
	}
}

// Locate resolves one location string. A location the service cannot resolve
// returns (nil, nil); misses are cached like hits so unknown places are not
// re-queried every run.
func (g *Geocoder) Locate(ctx context.Context, place string) (*Point, error) {
	if place == "" {
		return nil, nil
	}
	if v, ok := g.cache.Load(place); ok {
		return v.(*Point), nil
	}

	params := &url.Values{}
	params.Add(paramQuery, place)
	params.Add(paramFormat, "json")
	params.Add(paramLimit, "1")

	u, err := url.Parse(baseURL + searchEndpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to parse url %s in geo.Locate: %w", baseURL+searchEndpoint, err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create http request in geo.Locate: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to perform http request in geo.Locate: %w", err)
	}
	defer resp.Body.Close()

	var results []result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("unable to decode http response body in geo.Locate: %w", err)
	}

	var point *Point
	if len(results) > 0 {
		lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
		lon, lonErr := strconv.ParseFloat(results[0].Lon, 64)
		if latErr == nil && lonErr == nil {
			point = &Point{Latitude: lat, Longitude: lon}
		}
	}
	if point == nil {
		g.logger.Info("location not resolved", slog.String("place", place))
	}

	actual, loaded := g.cache.LoadOrStore(place, point)
	if loaded {
		return actual.(*Point), nil
	}
	return point, nil
}
