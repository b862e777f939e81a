// Package totaljobs scrapes job listings from totaljobs.com search result
// pages.
package totaljobs

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
	Name = "totaljobs"

	searchURL = "https://www.totaljobs.com/jobs"

	paramQuery = "q"
	paramPage  = "page"

	perPage  = 20
	maxPages = 50
)

type totaljobs struct {
	client *retryhttp.Client
	logger *slog.Logger
}

func New(l *slog.Logger, opts ...retryhttp.Option) *totaljobs { //nolint: revive
	if len(opts) == 0 {
		opts = []retryhttp.Option{retryhttp.WithRandomUserAgent()}
	}
	return &totaljobs{client: retryhttp.New(opts...), logger: l}
}

func (t *totaljobs) Name() string { return Name }

func (t *totaljobs) Scrape(ctx context.Context, term string) ([]etl.Record, error) {
	var total []etl.Record

	for page := 1; page <= maxPages; page++ {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("totaljobs.Scrape process was canceled: %w", ctx.Err())
		default:
		}

		body, err := t.fetchPage(ctx, term, page)
		if err != nil {
			return total, fmt.Errorf("failed to fetchPage in totaljobs.Scrape: %w", err)
		}
		records, err := parseBody(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parseBody in totaljobs.Scrape: %w", err)
		}
		total = append(total, records...)

		if len(records) < perPage {
			break
		}
	}

	return total, nil
}

func (t *totaljobs) fetchPage(ctx context.Context, term string, page int) (io.ReadCloser, error) {
	qp := url.Values{}
	qp.Add(paramQuery, term)
	if page > 1 {
		qp.Add(paramPage, strconv.Itoa(page))
	}

	u, err := url.Parse(searchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL in totaljobs.fetchPage: %w", err)
	}
	u.RawQuery = qp.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request in totaljobs.fetchPage: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do http request in totaljobs.fetchPage: %w", err)
	}

	return resp.Body, nil
}

func parseBody(body io.ReadCloser) ([]etl.Record, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML in totaljobs.parseBody: %w", err)
	}
	body.Close()

	var records []etl.Record
	extracted := time.Now().UTC()

	doc.Find("article[data-at=job-item]").Each(func(_ int, s *goquery.Selection) {
		rec := etl.Record{
			WebsiteName:    Name,
			DateExtracted:  extracted,
			JobTitle:       normalizeText(s.Find("[data-at=job-item-title]").Text()),
			CompanyName:    normalizeText(s.Find("[data-at=job-item-company-name]").Text()),
			Location:       normalizeText(s.Find("[data-at=job-item-location]").Text()),
			SalaryRange:    normalizeText(s.Find("[data-at=job-item-salary-info]").Text()),
			JobDescription: normalizeText(s.Find("[data-at=jobcard-content]").Text()),
		}
		if href, exists := s.Find("a[data-at=job-item-title]").Attr("href"); exists {
			if strings.HasPrefix(href, "/") {
				href = "https://www.totaljobs.com" + href
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
