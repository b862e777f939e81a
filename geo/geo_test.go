package geo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/alwedo/jobmart/scrape/retryhttp"
)

type stubTransport struct {
	calls     int
	responses map[string]string
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	body, ok := s.responses[req.URL.Query().Get("q")]
	if !ok {
		body = "[]"
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func newTestGeocoder(tr http.RoundTripper) *Geocoder {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return New(logger, retryhttp.WithTransport(tr))
}

func TestLocate(t *testing.T) {
	tr := &stubTransport{responses: map[string]string{
		"London": `[{"lat":"51.5074456","lon":"-0.1277653"}]`,
	}}
	g := newTestGeocoder(tr)
	ctx := context.Background()

	p, err := g.Locate(ctx, "London")
	if err != nil {
		t.Fatalf("Locate returned an error: %v", err)
	}
	if p == nil || p.Latitude != 51.5074456 || p.Longitude != -0.1277653 {
		t.Errorf("unexpected point %+v", p)
	}

	p, err = g.Locate(ctx, "Atlantis")
	if err != nil {
		t.Fatalf("Locate returned an error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for an unresolved place, got %+v", p)
	}
}

func TestLocateCaches(t *testing.T) {
	tr := &stubTransport{responses: map[string]string{
		"London": `[{"lat":"51.5","lon":"-0.12"}]`,
	}}
	g := newTestGeocoder(tr)
	ctx := context.Background()

	for range 3 {
		if _, err := g.Locate(ctx, "London"); err != nil {
			t.Fatalf("Locate returned an error: %v", err)
		}
	}
	if tr.calls != 1 {
		t.Errorf("expected 1 upstream call for a repeated place, got %d", tr.calls)
	}

	// Misses are cached too.
	for range 3 {
		if _, err := g.Locate(ctx, "Atlantis"); err != nil {
			t.Fatalf("Locate returned an error: %v", err)
		}
	}
	if tr.calls != 2 {
		t.Errorf("expected 2 upstream calls total, got %d", tr.calls)
	}
}

func TestLocateEmptyPlace(t *testing.T) {
	tr := &stubTransport{}
	g := newTestGeocoder(tr)

	p, err := g.Locate(context.Background(), "")
	if err != nil {
		t.Fatalf("Locate returned an error: %v", err)
	}
	if p != nil || tr.calls != 0 {
		t.Errorf("expected no lookup for an empty place, got %+v after %d calls", p, tr.calls)
	}
}
