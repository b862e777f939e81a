// Package cvlibrary scrapes job listings from cv-library.co.uk through a
// browser session, driving the site's own search form instead of crafting
// result URLs.
package cvlibrary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alwedo/jobmart/etl"
	"github.com/alwedo/jobmart/scrape/browser"
)

const (
	Name = "cv-library"

	baseURL = "https://www.cv-library.co.uk"

	cookieSelector  = "#save-preferences"
	searchSelector  = "#keywords"
	submitSelector  = "button[type=submit]"
	resultsSelector = "ol#searchResults"
)

type runner interface {
	Run(ctx context.Context, script []browser.Action) (string, error)
}

type cvlibrary struct {
	session runner
	logger  *slog.Logger
}

func New(l *slog.Logger, session *browser.Session) *cvlibrary { //nolint: revive
	return &cvlibrary{session: session, logger: l}
}

func (c *cvlibrary) Name() string { return Name }

// Scrape fills the search form for the term and parses the first results
// page. The site reshuffles deep pagination links per session, so only the
// first page is collected.
func (c *cvlibrary) Scrape(ctx context.Context, term string) ([]etl.Record, error) {
	html, err := c.session.Run(ctx, searchScript(term))
	if err != nil {
		return nil, fmt.Errorf("failed to run browser script in cvlibrary.Scrape: %w", err)
	}
	records, err := parseResults(html)
	if err != nil {
		return nil, fmt.Errorf("failed to parseResults in cvlibrary.Scrape: %w", err)
	}
	return records, nil
}

func searchScript(term string) []browser.Action {
	return []browser.Action{
		browser.Navigate(baseURL),
		browser.Dismiss(cookieSelector),
		browser.Fill(searchSelector, term),
		browser.Click(submitSelector),
		browser.Sleep(3 * time.Second),
		browser.Extract(resultsSelector),
	}
}

func parseResults(html string) ([]etl.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML in cvlibrary.parseResults: %w", err)
	}

	var records []etl.Record
	extracted := time.Now().UTC()

	doc.Find("li.results__item").Each(func(_ int, s *goquery.Selection) {
		rec := etl.Record{
			WebsiteName:    Name,
			DateExtracted:  extracted,
			JobTitle:       normalizeText(s.Find("h2.job__title a").Text()),
			CompanyName:    normalizeText(s.Find(".job__details-company a").Text()),
			Location:       normalizeText(s.Find(".job__details-location").Text()),
			SalaryRange:    normalizeText(s.Find(".job__details-salary").Text()),
			JobDescription: normalizeText(s.Find("p.job__description").Text()),
		}
		if href, exists := s.Find("h2.job__title a").Attr("href"); exists {
			if strings.HasPrefix(href, "/") {
				href = baseURL + href
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
