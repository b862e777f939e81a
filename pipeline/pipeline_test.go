package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alwedo/jobmart/etl"
	"github.com/alwedo/jobmart/geo"
	"github.com/alwedo/jobmart/staging"
	"github.com/alwedo/jobmart/table"
	"github.com/alwedo/jobmart/warehouse"
)

type fakeScraper struct {
	name    string
	records []etl.Record
	err     error
}

func (f *fakeScraper) Name() string { return f.name }

func (f *fakeScraper) Scrape(_ context.Context, _ string) ([]etl.Record, error) {
	return f.records, f.err
}

type fakeStager struct {
	objects map[string][][]byte
}

func newFakeStager() *fakeStager {
	return &fakeStager{objects: map[string][][]byte{}}
}

func (f *fakeStager) Upload(_ context.Context, site string, t time.Time, data []byte) (string, error) {
	prefix := staging.DatedPrefix(site, t)
	f.objects[prefix] = append(f.objects[prefix], data)
	return prefix + "batch.csv", nil
}

func (f *fakeStager) FetchPrefix(_ context.Context, prefix string) ([][]byte, error) {
	return f.objects[prefix], nil
}

type fakeGeocoder struct {
	points map[string]*geo.Point
}

func (f *fakeGeocoder) Locate(_ context.Context, place string) (*geo.Point, error) {
	return f.points[place], nil
}

// fakeStore keeps tables in memory and mirrors the warehouse normalizer
// semantics so incremental runs behave like they would against postgres.
type fakeStore struct {
	tables             map[string]*table.Table
	constraintsApplied bool
	viewsCreated       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: map[string]*table.Table{}}
}

func (f *fakeStore) TableNames(_ context.Context) ([]string, error) {
	var names []string
	for n := range f.tables {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeStore) ReadTable(_ context.Context, name string) (*table.Table, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, fmt.Errorf("no table %s", name)
	}
	return t.Clone(), nil
}

func (f *fakeStore) WriteTable(_ context.Context, t *table.Table, name string, mode warehouse.Mode) error {
	switch mode {
	case warehouse.ModeReplace:
		f.tables[name] = t.Clone()
	case warehouse.ModeAppend:
		existing, ok := f.tables[name]
		if !ok {
			f.tables[name] = t.Clone()
			return nil
		}
		combined, err := table.Concat(existing, t)
		if err != nil {
			return err
		}
		f.tables[name] = combined
	case warehouse.ModeFail:
		if _, ok := f.tables[name]; ok {
			return fmt.Errorf("table %s already exists", name)
		}
		f.tables[name] = t.Clone()
	}
	return nil
}

func (f *fakeStore) Deduplicate(_ context.Context, name, idCol, keyCol string) (int64, error) {
	t := f.tables[name]
	idIdx, keyIdx := t.ColIndex(idCol), t.ColIndex(keyCol)

	minID := map[string]int64{}
	for _, r := range t.Rows {
		id, _ := table.AsInt64(r[idIdx])
		k := fmt.Sprint(r[keyIdx])
		if best, ok := minID[k]; !ok || id < best {
			minID[k] = id
		}
	}
	var kept [][]any
	var removed int64
	for _, r := range t.Rows {
		id, _ := table.AsInt64(r[idIdx])
		if minID[fmt.Sprint(r[keyIdx])] == id {
			kept = append(kept, r)
		} else {
			removed++
		}
	}
	t.Rows = kept
	return removed, nil
}

func (f *fakeStore) Renumber(_ context.Context, name, idCol string) error {
	t := f.tables[name]
	idIdx := t.ColIndex(idCol)
	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, _ := table.AsInt64(t.Rows[i][idIdx])
		b, _ := table.AsInt64(t.Rows[j][idIdx])
		return a < b
	})
	for i, r := range t.Rows {
		r[idIdx] = int64(i + 1)
	}
	return nil
}

func (f *fakeStore) ApplyConstraints(_ context.Context) error {
	f.constraintsApplied = true
	return nil
}

func (f *fakeStore) CreateViews(_ context.Context) error {
	f.viewsCreated = true
	return nil
}

func testRecords(ts time.Time, companies ...string) []etl.Record {
	var recs []etl.Record
	for i, c := range companies {
		recs = append(recs, etl.Record{
			JobTitle:       fmt.Sprintf("engineer %d", i),
			CompanyName:    c,
			Location:       "London",
			JobDescription: "build things",
			JobURL:         fmt.Sprintf("https://example.com/%s/%d", c, i),
			SalaryRange:    "£43,000 - £50,000 a year",
			DateExtracted:  ts,
			WebsiteName:    "reed",
		})
	}
	return recs
}

func newTestPipeline(store Store, stager Stager, src *fakeScraper) *Pipeline {
	l := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	g := &fakeGeocoder{points: map[string]*geo.Point{
		"London": {Latitude: 51.5072, Longitude: -0.1276},
	}}
	urls := map[string]string{"reed": "https://www.reed.co.uk"}
	return New(l, store, stager, g, urls, Source{Scraper: src, Terms: []string{"golang"}})
}

func TestRunFirstLoad(t *testing.T) {
	store := newFakeStore()
	stager := newFakeStager()
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	src := &fakeScraper{name: "reed", records: testRecords(ts, "Acme", "Globex")}

	p := newTestPipeline(store, stager, src)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	status := p.Status()
	if status.Mode != ModeFirstLoad {
		t.Errorf("wanted mode %s, got %s", ModeFirstLoad, status.Mode)
	}
	if status.Outcome != "success" {
		t.Errorf("wanted outcome success, got %s (%s)", status.Outcome, status.Error)
	}
	if status.RowsScraped != 2 {
		t.Errorf("wanted 2 rows scraped, got %d", status.RowsScraped)
	}

	for _, name := range ExpectedTables {
		if _, ok := store.tables[name]; !ok {
			t.Errorf("expected table %s to be written", name)
		}
	}
	if !store.constraintsApplied || !store.viewsCreated {
		t.Error("expected constraints and views to be applied on a first load")
	}

	company := store.tables["dim_company"]
	if company.Len() != 2 {
		t.Errorf("expected 2 companies, got %d", company.Len())
	}
	fact := store.tables["fact_job_data"]
	if fact.Len() != 2 {
		t.Errorf("expected 2 fact rows, got %d", fact.Len())
	}

	// The geocoder result lands on the location dimension.
	loc := store.tables["dim_location"]
	if got := loc.Rows[0][loc.ColIndex("latitude")]; got != 51.5072 {
		t.Errorf("expected London latitude on dim_location, got %v", got)
	}
	// The configured site url lands on the website dimension.
	web := store.tables["dim_website"]
	if got := web.Rows[0][web.ColIndex("website_url")]; got != "https://www.reed.co.uk" {
		t.Errorf("expected the configured website url, got %v", got)
	}
}

func TestRunIncrementalLoad(t *testing.T) {
	store := newFakeStore()
	stager := newFakeStager()
	day1 := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	src := &fakeScraper{name: "reed", records: testRecords(day1, "Acme", "Globex")}

	p := newTestPipeline(store, stager, src)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run returned an error: %v", err)
	}

	// Second run: one known company, one new one. Staging replays the whole
	// day, so the second land batch carries all four rows.
	day2 := time.Now().UTC().Truncate(time.Second)
	src.records = testRecords(day2, "Acme", "Hooli")
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run returned an error: %v", err)
	}

	status := p.Status()
	if status.Mode != ModeIncrementalLoad {
		t.Fatalf("wanted mode %s, got %s (%s)", ModeIncrementalLoad, status.Mode, status.Error)
	}
	if status.RowsLoaded["dim_company"] != 1 {
		t.Errorf("expected 1 new company row, got %d", status.RowsLoaded["dim_company"])
	}

	company := store.tables["dim_company"]
	if company.Len() != 3 {
		t.Fatalf("expected 3 companies after the merge, got %d", company.Len())
	}
	// Dense ids 1..N survive the merge.
	idIdx := company.ColIndex("company_name_id")
	seen := map[int64]bool{}
	for _, r := range company.Rows {
		id, ok := table.AsInt64(r[idIdx])
		if !ok || id < 1 || id > 3 || seen[id] {
			t.Errorf("expected dense unique ids 1..3, got row %v", r)
		}
		seen[id] = true
	}

	// Both batches were staged today, so the day replay lands four rows.
	land := store.tables["land_job_data"]
	if land.Len() != 4 {
		t.Errorf("expected the land table replaced with the day's four rows, got %d rows", land.Len())
	}

	fact := store.tables["fact_job_data"]
	if fact.Len() != 6 {
		t.Errorf("expected 2 first-load plus 4 appended fact rows, got %d", fact.Len())
	}
}

// noisyStore reports phantom duplicate removals from the normalizer.
type noisyStore struct {
	*fakeStore
}

func (s *noisyStore) Deduplicate(ctx context.Context, name, idCol, keyCol string) (int64, error) {
	if _, err := s.fakeStore.Deduplicate(ctx, name, idCol, keyCol); err != nil {
		return 0, err
	}
	return 1, nil
}

func TestIncrementalLoadLogsDuplicateRemovals(t *testing.T) {
	store := &noisyStore{fakeStore: newFakeStore()}
	stager := newFakeStager()
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	src := &fakeScraper{name: "reed", records: testRecords(ts, "Acme")}

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{}))
	g := &fakeGeocoder{points: map[string]*geo.Point{}}
	p := New(l, store, stager, g, map[string]string{"reed": "https://www.reed.co.uk"},
		Source{Scraper: src, Terms: []string{"golang"}})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run returned an error: %v", err)
	}
	buf.Reset()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run returned an error: %v", err)
	}

	logged := buf.String()
	if !strings.Contains(logged, "normalizer removed duplicate dimension rows") {
		t.Error("expected a warning when the normalizer removed rows")
	}
	if !strings.Contains(logged, "dim_company") {
		t.Errorf("expected the table name in the warning, got: %s", logged)
	}
}

func TestRunFailsWhenNothingScraped(t *testing.T) {
	store := newFakeStore()
	stager := newFakeStager()
	src := &fakeScraper{name: "reed", err: fmt.Errorf("blocked")}

	p := newTestPipeline(store, stager, src)
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected an error when every site fails, got nil")
	}
	if got := p.Status().Outcome; got != "error" {
		t.Errorf("wanted outcome error, got %s", got)
	}
	if len(store.tables) != 0 {
		t.Errorf("expected no warehouse writes, got %v", store.tables)
	}
}

func TestLoadModeFallsBackOnPartialWarehouse(t *testing.T) {
	store := newFakeStore()
	store.tables["dim_company"] = table.New("company_name_id", "company_name")

	l := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	p := New(l, store, newFakeStager(), &fakeGeocoder{}, nil)

	mode, err := p.loadMode(context.Background())
	if err != nil {
		t.Fatalf("loadMode returned an error: %v", err)
	}
	if mode != ModeFirstLoad {
		t.Errorf("wanted a partial warehouse to collapse to %s, got %s", ModeFirstLoad, mode)
	}
}
