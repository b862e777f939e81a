// Package reed scrapes job listings from reed.co.uk search result pages.
package reed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alwedo/jobmart/etl"
	"github.com/alwedo/jobmart/scrape/retryhttp"
)

const (
	Name = "reed"

	searchURL = "https://www.reed.co.uk/jobs"

	paramKeywords = "keywords" // Search keywords, ie. "golang"
	paramPage     = "pageno"   // 1-based page of the pagination.

	// Reed serves 25 cards per page. A short page means the last one.
	perPage  = 25
	maxPages = 40
)

type reed struct {
	client *retryhttp.Client
	logger *slog.Logger
}

func New(l *slog.Logger, opts ...retryhttp.Option) *reed { //nolint: revive
	if len(opts) == 0 {
		opts = []retryhttp.Option{retryhttp.WithRandomUserAgent()}
	}
	return &reed{client: retryhttp.New(opts...), logger: l}
}

func (r *reed) Name() string { return Name }

// Scrape paginates over the search results for one term until a page comes
// back short or empty.
func (r *reed) Scrape(ctx context.Context, term string) ([]etl.Record, error) {
	var total []etl.Record

	for page := 1; page <= maxPages; page++ {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("reed.Scrape process was canceled: %w", ctx.Err())
		default:
		}

		body, err := r.fetchPage(ctx, term, page)
		if err != nil {
			// Return the accumulated records so far.
			return total, fmt.Errorf("failed to fetchPage in reed.Scrape: %w", err)
		}
		records, err := parseBody(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parseBody in reed.Scrape: %w", err)
		}
		total = append(total, records...)

		if len(records) < perPage {
			break
		}
	}

	return total, nil
}

func (r *reed) fetchPage(ctx context.Context, term string, page int) (io.ReadCloser, error) {
	qp := url.Values{}
	qp.Add(paramKeywords, term)
	if page > 1 {
		qp.Add(paramPage, strconv.Itoa(page))
	}

	u, err := url.Parse(searchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL in reed.fetchPage: %w", err)
	}
	u.RawQuery = qp.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request in reed.fetchPage: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do http request in reed.fetchPage: %w", err)
	}

	return resp.Body, nil
}

// parseBody extracts one record per job card from a search results page.
func parseBody(body io.ReadCloser) ([]etl.Record, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML in reed.parseBody: %w", err)
	}
	body.Close()

	var records []etl.Record
	extracted := time.Now().UTC()

	doc.Find("article.job-result-card").Each(func(_ int, s *goquery.Selection) {
		rec := etl.Record{
			WebsiteName:    Name,
			DateExtracted:  extracted,
			JobTitle:       normalizeText(s.Find("h2.job-result-heading a").Text()),
			CompanyName:    normalizeText(s.Find(".job-result-heading__posted-by a").Text()),
			Location:       normalizeText(s.Find(".job-metadata__item--location").Text()),
			SalaryRange:    normalizeText(s.Find(".job-metadata__item--salary").Text()),
			JobDescription: normalizeText(s.Find(".job-result-description").Text()),
		}
		if href, exists := s.Find("h2.job-result-heading a").Attr("href"); exists {
			if strings.HasPrefix(href, "/") {
				href = "https://www.reed.co.uk" + href
			}
			rec.JobURL = href
		}
		records = append(records, rec)
	})

	return records, nil
}

// normalizeText removes newlines and trims whitespaces from a string.
func normalizeText(s string) string {
	str := strings.Split(s, "\n")
	for i, v := range str {
		str[i] = strings.TrimSpace(v)
	}
	return strings.TrimSpace(strings.Join(str, " "))
}
