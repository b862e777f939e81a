// Package metrics holds the prometheus collectors for the scrapers, the load
// pipeline and the status server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScraperJob observes one scrape of one site for one search term.
	ScraperJob = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobmart",
		Name:      "scraper_job_duration_seconds",
		Help:      "Duration of a single site scrape, labeled with the rows it produced.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"site", "term", "rows"})

	// RowsScraped counts listing rows per site across runs.
	RowsScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmart",
		Name:      "rows_scraped_total",
		Help:      "Total listing rows scraped per site.",
	}, []string{"site"})

	// RowsLoaded reports the rows written per warehouse table on the last load.
	RowsLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobmart",
		Name:      "rows_loaded",
		Help:      "Rows written per warehouse table in the last load.",
	}, []string{"table"})

	// PipelineRuns counts completed pipeline runs by outcome.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmart",
		Name:      "pipeline_runs_total",
		Help:      "Completed pipeline runs by outcome.",
	}, []string{"outcome"})

	// PipelineDuration observes full pipeline runs.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jobmart",
		Name:      "pipeline_duration_seconds",
		Help:      "Duration of a full scrape-and-load run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmart",
		Name:      "http_requests_total",
		Help:      "Status server requests by path and status code.",
	}, []string{"path", "code"})
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware counts requests against the wrapped handler.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.URL.Path, strconv.Itoa(rec.code)).Inc()
	})
}

// ObserveScrape records one site scrape.
func ObserveScrape(site, term string, rows int, took time.Duration) {
	ScraperJob.WithLabelValues(site, term, strconv.Itoa(rows)).Observe(took.Seconds())
	RowsScraped.WithLabelValues(site).Add(float64(rows))
}
