// Package scrape defines the Scraper interface for extracting job listings
// from external job boards. Implementations accept a search term and return
// raw listing records for the landing zone.
// Includes a mock implementation for testing.
package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwedo/jobmart/etl"
	"github.com/alwedo/jobmart/metrics"
)

type Scraper interface {
	Name() string
	Scrape(ctx context.Context, term string) ([]etl.Record, error)
}

// Group fans one set of search terms out over every configured site. A site
// failing does not stop the others; errors are combined and returned next to
// whatever records were collected.
type Group struct {
	sources []Scraper
}

func NewGroup(sources ...Scraper) *Group {
	return &Group{sources: sources}
}

func (g *Group) Scrape(ctx context.Context, terms []string) ([]etl.Record, error) {
	var (
		recordsCh    = make(chan []etl.Record)
		errorsCh     = make(chan error)
		totalRecords []etl.Record
		errs         []error
		wg           sync.WaitGroup
		collectors   sync.WaitGroup
	)

	for _, source := range g.sources {
		for _, term := range terms {
			wg.Go(func() {
				t := time.Now()
				records, err := source.Scrape(ctx, term)
				if err != nil {
					errorsCh <- fmt.Errorf("%s %q: %w", source.Name(), term, err)
				}
				metrics.ObserveScrape(source.Name(), term, len(records), time.Since(t))
				recordsCh <- records
			})
		}
	}

	collectors.Go(func() {
		for r := range recordsCh {
			totalRecords = append(totalRecords, r...)
		}
	})

	collectors.Go(func() {
		for e := range errorsCh {
			errs = append(errs, e)
		}
	})

	wg.Wait()
	close(recordsCh)
	close(errorsCh)
	collectors.Wait()

	return totalRecords, combineErrors(errs)
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	combinedErr := errs[0]
	for _, err := range errs[1:] {
		combinedErr = fmt.Errorf("%w; %w", combinedErr, err)
	}

	return combinedErr
}

type mockScraper struct {
	name     string
	LastTerm string
	mockErr  error
	mu       sync.Mutex
}

func newMockScraper(opts ...mockScraperOpts) *mockScraper {
	scr := &mockScraper{name: "mock"}
	for _, o := range opts {
		o(scr)
	}
	return scr
}

func (m *mockScraper) Name() string { return m.name }

func (m *mockScraper) Scrape(_ context.Context, term string) ([]etl.Record, error) {
	m.mu.Lock()
	m.LastTerm = term
	m.mu.Unlock()
	if m.mockErr != nil {
		return nil, m.mockErr
	}
	return []etl.Record{
		{
			JobTitle:      term + " engineer",
			CompanyName:   "Acme",
			Location:      "London",
			DateExtracted: time.Now().UTC(),
			WebsiteName:   m.name,
		},
	}, nil
}

type mockScraperOpts func(*mockScraper)

func mockScraperWithError(err error) mockScraperOpts {
	return func(m *mockScraper) {
		m.mockErr = err
	}
}

var MockScraper = &mockScraper{name: "mock"}
