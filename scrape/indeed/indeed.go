// Package indeed scrapes job listings from indeed.com, which blocks plain
// HTTP clients and has to be visited through a real browser session.
package indeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alwedo/jobmart/etl"
	"github.com/alwedo/jobmart/scrape/browser"
)

const (
	Name = "indeed"

	searchURL = "https://uk.indeed.com/jobs"

	paramQuery = "q"
	paramStart = "start" // Pagination offset in card counts.

	perPage  = 15
	maxPages = 30

	cookieSelector  = "#onetrust-accept-btn-handler"
	resultsSelector = "#mosaic-provider-jobcards"
)

// runner is the slice of browser.Session the scraper needs.
type runner interface {
	Run(ctx context.Context, script []browser.Action) (string, error)
}

type indeed struct {
	session runner
	logger  *slog.Logger
}

func New(l *slog.Logger, session *browser.Session) *indeed { //nolint: revive
	return &indeed{session: session, logger: l}
}

func (i *indeed) Name() string { return Name }

// Scrape visits the search results one page at a time through the browser
// session and parses the captured card container HTML.
func (i *indeed) Scrape(ctx context.Context, term string) ([]etl.Record, error) {
	var total []etl.Record

	for page := 0; page < maxPages; page++ {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("indeed.Scrape process was canceled: %w", ctx.Err())
		default:
		}

		html, err := i.session.Run(ctx, pageScript(term, page*perPage))
		if err != nil {
			return total, fmt.Errorf("failed to run browser script in indeed.Scrape: %w", err)
		}
		records, err := parseCards(html)
		if err != nil {
			return nil, fmt.Errorf("failed to parseCards in indeed.Scrape: %w", err)
		}
		total = append(total, records...)

		if len(records) < perPage {
			break
		}
	}

	return total, nil
}

// pageScript builds the action list for one results page.
func pageScript(term string, start int) []browser.Action {
	qp := url.Values{}
	qp.Add(paramQuery, term)
	if start > 0 {
		qp.Add(paramStart, strconv.Itoa(start))
	}
	return []browser.Action{
		browser.Navigate(searchURL + "?" + qp.Encode()),
		browser.Dismiss(cookieSelector),
		browser.Sleep(3 * time.Second),
		browser.Extract(resultsSelector),
	}
}

func parseCards(html string) ([]etl.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML in indeed.parseCards: %w", err)
	}

	var records []etl.Record
	extracted := time.Now().UTC()

	doc.Find("div.job_seen_beacon").Each(func(_ int, s *goquery.Selection) {
		rec := etl.Record{
			WebsiteName:    Name,
			DateExtracted:  extracted,
			JobTitle:       normalizeText(s.Find("h2.jobTitle span").Text()),
			CompanyName:    normalizeText(s.Find("[data-testid=company-name]").Text()),
			Location:       normalizeText(s.Find("[data-testid=text-location]").Text()),
			SalaryRange:    normalizeText(s.Find(".salary-snippet-container").Text()),
			JobDescription: normalizeText(s.Find(".job-snippet").Text()),
		}
		if href, exists := s.Find("h2.jobTitle a").Attr("href"); exists {
			if strings.HasPrefix(href, "/") {
				href = "https://uk.indeed.com" + href
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
