// Package pipeline orchestrates one scrape-and-load run: scrape every
// configured site, stage the raw batches, ingest them into the land table,
// derive the star schema and reconcile it into the warehouse.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alwedo/jobmart/etl"
	"github.com/alwedo/jobmart/geo"
	"github.com/alwedo/jobmart/metrics"
	"github.com/alwedo/jobmart/scrape"
	"github.com/alwedo/jobmart/staging"
	"github.com/alwedo/jobmart/table"
	"github.com/alwedo/jobmart/warehouse"
)

// Store is the slice of the warehouse the pipeline drives.
type Store interface {
	TableNames(ctx context.Context) ([]string, error)
	ReadTable(ctx context.Context, name string) (*table.Table, error)
	WriteTable(ctx context.Context, t *table.Table, name string, mode warehouse.Mode) error
	Deduplicate(ctx context.Context, name, idCol, keyCol string) (int64, error)
	Renumber(ctx context.Context, name, idCol string) error
	ApplyConstraints(ctx context.Context) error
	CreateViews(ctx context.Context) error
}

// Stager stages raw scrape batches between scraping and loading.
type Stager interface {
	Upload(ctx context.Context, site string, t time.Time, data []byte) (string, error)
	FetchPrefix(ctx context.Context, prefix string) ([][]byte, error)
}

// Geocoder resolves location strings for dim_location.
type Geocoder interface {
	Locate(ctx context.Context, place string) (*geo.Point, error)
}

// Source pairs one site scraper with the search terms it runs.
type Source struct {
	Scraper scrape.Scraper
	Terms   []string
}

// ExpectedTables is the table set of a fully loaded warehouse. The load mode
// decision compares against it exactly: a perfect match means incremental,
// anything else (empty, subset, superset) falls back to a full replace.
var ExpectedTables = []string{
	"land_job_data",
	"dim_company",
	"dim_job_title",
	"dim_description",
	"dim_location",
	"dim_date",
	"dim_job_url",
	"dim_website",
	"fact_job_data",
}

// dimension describes one dimension table's natural key and surrogate id.
type dimension struct {
	name string
	key  string
	id   string
}

var dimensions = []dimension{
	{"dim_job_title", "job_title", "job_title_id"},
	{"dim_company", "company_name", "company_name_id"},
	{"dim_location", "location", "location_id"},
	{"dim_job_url", "job_url", "job_url_id"},
	{"dim_description", "job_description", "job_description_id"},
	{"dim_date", "date_extracted", "date_extracted_id"},
	{"dim_website", "website_name", "website_name_id"},
}

const (
	ModeFirstLoad       = "first_load"
	ModeIncrementalLoad = "incremental_load"
)

// Status is the last-run summary served by the status server.
type Status struct {
	LastRun     time.Time      `json:"last_run"`
	Outcome     string         `json:"outcome"`
	Mode        string         `json:"mode"`
	RowsScraped int            `json:"rows_scraped"`
	RowsLoaded  map[string]int `json:"rows_loaded"`
	Error       string         `json:"error,omitempty"`
}

type Pipeline struct {
	logger      *slog.Logger
	store       Store
	stager      Stager
	geocoder    Geocoder
	websiteURLs map[string]string
	sources     []Source

	mu     sync.Mutex
	status Status
}

func New(l *slog.Logger, store Store, stager Stager, geocoder Geocoder, websiteURLs map[string]string, sources ...Source) *Pipeline {
	return &Pipeline{
		logger:      l,
		store:       store,
		stager:      stager,
		geocoder:    geocoder,
		websiteURLs: websiteURLs,
		sources:     sources,
	}
}

// Status returns a copy of the last run summary.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run executes one full scrape-and-load and records the outcome.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now().UTC()
	p.logger.Info("pipeline run started")

	status, err := p.run(ctx, start)
	status.LastRun = start
	status.Outcome = "success"
	if err != nil {
		status.Outcome = "error"
		status.Error = err.Error()
		p.logger.Error("pipeline run failed", slog.String("error", err.Error()))
	} else {
		p.logger.Info("pipeline run finished",
			slog.String("mode", status.Mode),
			slog.Int("rows_scraped", status.RowsScraped),
			slog.Duration("took", time.Since(start)))
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()

	metrics.PipelineRuns.WithLabelValues(status.Outcome).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	for name, rows := range status.RowsLoaded {
		metrics.RowsLoaded.WithLabelValues(name).Set(float64(rows))
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, runTime time.Time) (Status, error) {
	status := Status{RowsLoaded: map[string]int{}}

	scraped, err := p.scrapeAndStage(ctx, runTime)
	if err != nil {
		return status, err
	}
	status.RowsScraped = scraped

	land, err := p.ingest(ctx, runTime)
	if err != nil {
		return status, err
	}

	built, err := p.buildTables(ctx, land)
	if err != nil {
		return status, err
	}

	mode, err := p.loadMode(ctx)
	if err != nil {
		return status, err
	}
	status.Mode = mode

	switch mode {
	case ModeFirstLoad:
		err = p.firstLoad(ctx, built, &status)
	case ModeIncrementalLoad:
		err = p.incrementalLoad(ctx, land, built, &status)
	}
	return status, err
}

// scrapeAndStage runs every site and uploads each non-empty batch as one CSV
// object. A failing site is logged and skipped; the run only aborts when no
// site produced anything.
func (p *Pipeline) scrapeAndStage(ctx context.Context, runTime time.Time) (int, error) {
	var total int
	var failures int

	for _, src := range p.sources {
		records, err := scrape.NewGroup(src.Scraper).Scrape(ctx, src.Terms)
		if err != nil {
			failures++
			p.logger.Error("site scrape failed",
				slog.String("site", src.Scraper.Name()), slog.String("error", err.Error()))
		}
		if len(records) == 0 {
			continue
		}

		data, err := etl.LandTable(records).CSV()
		if err != nil {
			return total, fmt.Errorf("pipeline: failed to render %s batch in scrapeAndStage: %w", src.Scraper.Name(), err)
		}
		key, err := p.stager.Upload(ctx, src.Scraper.Name(), runTime, data)
		if err != nil {
			return total, fmt.Errorf("pipeline: failed to stage %s batch in scrapeAndStage: %w", src.Scraper.Name(), err)
		}
		p.logger.Info("batch staged",
			slog.String("site", src.Scraper.Name()),
			slog.String("key", key),
			slog.Int("rows", len(records)))
		total += len(records)
	}

	if total == 0 {
		return 0, fmt.Errorf("pipeline: no records scraped from %d sites (%d failed) in scrapeAndStage", len(p.sources), failures)
	}
	return total, nil
}

// ingest replays everything staged for the run's day across all sites and
// parses it into one land table.
func (p *Pipeline) ingest(ctx context.Context, runTime time.Time) (*table.Table, error) {
	var payloads [][]byte
	for _, src := range p.sources {
		batch, err := p.stager.FetchPrefix(ctx, staging.DatedPrefix(src.Scraper.Name(), runTime))
		if err != nil {
			return nil, fmt.Errorf("pipeline: failed to fetch staged batches in ingest: %w", err)
		}
		payloads = append(payloads, batch...)
	}

	land, err := etl.Ingest(payloads)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to ingest staged batches in ingest: %w", err)
	}
	// CSV staging stringifies everything; timestamps must come back before
	// the joins so land and dim_date agree cell for cell.
	land, err = etl.CoerceTime(land, "date_extracted")
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to coerce land timestamps in ingest: %w", err)
	}
	return land, nil
}

// buildTables derives every dimension and the fact table from the land batch.
func (p *Pipeline) buildTables(ctx context.Context, land *table.Table) (map[string]*table.Table, error) {
	built := map[string]*table.Table{"land_job_data": land}

	jobTitleDim := etl.BuildDimension(land, "job_title", []string{"job_title_id", "job_title"})
	companyDim := etl.BuildDimension(land, "company_name", []string{"company_name_id", "company_name"})
	jobURLDim := etl.BuildDimension(land, "job_url", []string{"job_url_id", "job_url"})
	descriptionDim := etl.BuildDimension(land, "job_description", []string{"job_description_id", "job_description"})

	locationDim, err := p.geocodeLocations(ctx, etl.BuildDimension(land, "location", []string{"location_id", "location"}))
	if err != nil {
		return nil, err
	}

	websiteDim := p.resolveWebsiteURLs(etl.BuildDimension(land, "website_name", []string{"website_name_id", "website_name"}))

	dateDim := etl.BuildDimension(land, "date_extracted", []string{"date_extracted_id", "date_extracted"})
	timeDim, err := etl.BuildTimeDimension(dateDim, "date_extracted", etl.TimeDimensionColumns)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to build dim_date in buildTables: %w", err)
	}

	fact, err := etl.BuildFact(land, jobTitleDim, companyDim, locationDim, jobURLDim, descriptionDim, timeDim, websiteDim)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to build fact table in buildTables: %w", err)
	}

	built["dim_job_title"] = jobTitleDim
	built["dim_company"] = companyDim
	built["dim_job_url"] = jobURLDim
	built["dim_description"] = descriptionDim
	built["dim_location"] = locationDim
	built["dim_website"] = websiteDim
	built["dim_date"] = timeDim
	built["fact_job_data"] = fact
	return built, nil
}

// geocodeLocations widens the location dimension with latitude and longitude.
// Unresolved locations stay null; a geocoder outage degrades the dimension
// instead of failing the run.
func (p *Pipeline) geocodeLocations(ctx context.Context, dim *table.Table) (*table.Table, error) {
	lats := make([]any, 0, dim.Len())
	lons := make([]any, 0, dim.Len())
	i := dim.ColIndex("location")
	for _, r := range dim.Rows {
		place, _ := r[i].(string)
		point, err := p.geocoder.Locate(ctx, place)
		if err != nil {
			p.logger.Error("geocoding failed", slog.String("place", place), slog.String("error", err.Error()))
			point = nil
		}
		if point == nil {
			lats = append(lats, nil)
			lons = append(lons, nil)
			continue
		}
		lats = append(lats, point.Latitude)
		lons = append(lons, point.Longitude)
	}
	return dim.AddCol("latitude", lats).AddCol("longitude", lons).
		Reorder([]string{"location_id", "location", "latitude", "longitude"}), nil
}

// resolveWebsiteURLs widens the website dimension with the configured site
// URL; sites missing from the config get a null.
func (p *Pipeline) resolveWebsiteURLs(dim *table.Table) *table.Table {
	urls := make([]any, 0, dim.Len())
	i := dim.ColIndex("website_name")
	for _, r := range dim.Rows {
		name, _ := r[i].(string)
		if u, ok := p.websiteURLs[name]; ok {
			urls = append(urls, u)
		} else {
			urls = append(urls, nil)
		}
	}
	return dim.AddCol("website_url", urls).
		Reorder([]string{"website_name_id", "website_name", "website_url"})
}

// loadMode compares the warehouse's tables against the expected set. Only an
// exact match counts as an already-loaded warehouse; any other state falls
// back to a destructive full replace, which is why the mismatch is logged.
func (p *Pipeline) loadMode(ctx context.Context) (string, error) {
	names, err := p.store.TableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("pipeline: failed to list warehouse tables in loadMode: %w", err)
	}

	got := append([]string(nil), names...)
	want := append([]string(nil), ExpectedTables...)
	slices.Sort(got)
	slices.Sort(want)
	if slices.Equal(got, want) {
		return ModeIncrementalLoad, nil
	}
	if len(got) > 0 {
		p.logger.Warn("warehouse tables do not match the expected set, replacing everything",
			slog.Any("found", names))
	}
	return ModeFirstLoad, nil
}

func (p *Pipeline) firstLoad(ctx context.Context, built map[string]*table.Table, status *Status) error {
	for _, name := range ExpectedTables {
		if err := p.store.WriteTable(ctx, built[name], name, warehouse.ModeReplace); err != nil {
			return fmt.Errorf("pipeline: failed to write %s in firstLoad: %w", name, err)
		}
		status.RowsLoaded[name] = built[name].Len()
	}
	if err := p.store.ApplyConstraints(ctx); err != nil {
		return fmt.Errorf("pipeline: failed to apply constraints in firstLoad: %w", err)
	}
	if err := p.store.CreateViews(ctx); err != nil {
		return fmt.Errorf("pipeline: failed to create views in firstLoad: %w", err)
	}
	return nil
}

// incrementalLoad reconciles each dimension against the warehouse, normalizes
// it, then rebuilds the fact rows for this batch against the normalized
// dimensions before appending them.
func (p *Pipeline) incrementalLoad(ctx context.Context, land *table.Table, built map[string]*table.Table, status *Status) error {
	// Land is a snapshot of the current scrape, never a history.
	if err := p.store.WriteTable(ctx, land, "land_job_data", warehouse.ModeReplace); err != nil {
		return fmt.Errorf("pipeline: failed to replace land table in incrementalLoad: %w", err)
	}
	status.RowsLoaded["land_job_data"] = land.Len()

	for _, d := range dimensions {
		persisted, err := p.store.ReadTable(ctx, d.name)
		if err != nil {
			return fmt.Errorf("pipeline: failed to read %s in incrementalLoad: %w", d.name, err)
		}
		newRows, err := etl.Upsert(persisted, built[d.name], d.id, d.key)
		if err != nil {
			return fmt.Errorf("pipeline: failed to upsert %s in incrementalLoad: %w", d.name, err)
		}
		if newRows.Len() > 0 {
			if err := p.store.WriteTable(ctx, newRows, d.name, warehouse.ModeAppend); err != nil {
				return fmt.Errorf("pipeline: failed to append %s in incrementalLoad: %w", d.name, err)
			}
		}
		status.RowsLoaded[d.name] = newRows.Len()

		removed, err := p.store.Deduplicate(ctx, d.name, d.id, d.key)
		if err != nil {
			return fmt.Errorf("pipeline: failed to deduplicate %s in incrementalLoad: %w", d.name, err)
		}
		if removed > 0 {
			// The upsert should only ever append unseen keys; a removal here
			// means the appended batch disagreed with the warehouse.
			p.logger.Warn("normalizer removed duplicate dimension rows",
				slog.String("table", d.name), slog.Int64("removed", removed))
		}
		if err := p.store.Renumber(ctx, d.name, d.id); err != nil {
			return fmt.Errorf("pipeline: failed to renumber %s in incrementalLoad: %w", d.name, err)
		}
	}

	// The normalizer may have moved surrogate ids; fact rows must reference
	// the ids as persisted, not as built.
	normalized := map[string]*table.Table{}
	for _, d := range dimensions {
		dim, err := p.store.ReadTable(ctx, d.name)
		if err != nil {
			return fmt.Errorf("pipeline: failed to re-read %s in incrementalLoad: %w", d.name, err)
		}
		normalized[d.name] = dim
	}

	fact, err := etl.BuildFact(land,
		normalized["dim_job_title"],
		normalized["dim_company"],
		normalized["dim_location"],
		normalized["dim_job_url"],
		normalized["dim_description"],
		normalized["dim_date"],
		normalized["dim_website"])
	if err != nil {
		return fmt.Errorf("pipeline: failed to rebuild fact table in incrementalLoad: %w", err)
	}
	if err := p.store.WriteTable(ctx, fact, "fact_job_data", warehouse.ModeAppend); err != nil {
		return fmt.Errorf("pipeline: failed to append fact table in incrementalLoad: %w", err)
	}
	status.RowsLoaded["fact_job_data"] = fact.Len()
	return nil
}
