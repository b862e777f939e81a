// Package etl builds the star-schema warehouse tables out of raw scraped job
// records: a land table, six dimension tables, a calendar time dimension and
// the fact table, plus the upsert reconciliation used on incremental loads.
package etl

import (
	"bytes"
	"fmt"
	"time"

	"github.com/alwedo/jobmart/table"
)

// Record is one scraped job listing, the land-table grain.
type Record struct {
	JobTitle       string
	CompanyName    string
	Location       string
	JobDescription string
	JobURL         string
	SalaryRange    string
	DateExtracted  time.Time
	WebsiteName    string
}

// LandColumns is the fixed column layout of the land table.
var LandColumns = []string{
	"job_title", "company_name", "location", "job_description",
	"job_url", "salary_range", "date_extracted", "website_name",
}

// LandTable materializes scraped records into a land table. Timestamps are
// normalized to UTC and truncated to seconds so a record survives a CSV
// round trip through staging unchanged.
func LandTable(recs []Record) *table.Table {
	t := table.New(LandColumns...)
	for _, r := range recs {
		t.Rows = append(t.Rows, []any{
			r.JobTitle, r.CompanyName, r.Location, r.JobDescription,
			r.JobURL, r.SalaryRange, r.DateExtracted.UTC().Truncate(time.Second), r.WebsiteName,
		})
	}
	return t
}

// Ingest turns one or more staged CSV payloads into a single land table.
// A single payload is parsed directly; several are parsed individually and
// concatenated in input order with a fresh dense row order. Any unparseable
// payload aborts the whole ingestion.
func Ingest(payloads [][]byte) (*table.Table, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("etl: no payloads to ingest in Ingest")
	}
	if len(payloads) == 1 {
		t, err := table.FromCSV(bytes.NewReader(payloads[0]))
		if err != nil {
			return nil, fmt.Errorf("etl: failed to parse payload in Ingest: %w", err)
		}
		return t, nil
	}
	tables := make([]*table.Table, 0, len(payloads))
	for i, p := range payloads {
		t, err := table.FromCSV(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("etl: failed to parse payload %d in Ingest: %w", i, err)
		}
		tables = append(tables, t)
	}
	combined, err := table.Concat(tables...)
	if err != nil {
		return nil, fmt.Errorf("etl: failed to combine payloads in Ingest: %w", err)
	}
	return combined, nil
}

var timeLayouts = []string{table.TimeLayout, time.RFC3339, "2006-01-02"}

// ParseTime coerces a cell to a UTC timestamp. Accepts time.Time values and
// the string layouts the staging CSV and the warehouse produce.
func ParseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, x, time.UTC); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("etl: unparseable timestamp %q in ParseTime", x)
	default:
		return time.Time{}, fmt.Errorf("etl: cannot parse %T as timestamp in ParseTime", v)
	}
}

// CoerceTime returns a copy of the table with the named column parsed into
// time.Time values. Nil cells stay nil.
func CoerceTime(t *table.Table, col string) (*table.Table, error) {
	n := t.Clone()
	i := n.ColIndex(col)
	if i < 0 {
		return nil, fmt.Errorf("etl: no column %q to coerce in CoerceTime", col)
	}
	for _, r := range n.Rows {
		if r[i] == nil {
			continue
		}
		ts, err := ParseTime(r[i])
		if err != nil {
			return nil, fmt.Errorf("etl: failed to coerce column %q in CoerceTime: %w", col, err)
		}
		r[i] = ts
	}
	return n, nil
}
