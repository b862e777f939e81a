// Package server exposes the operational surface of the loader: prometheus
// metrics, a liveness probe and a JSON summary of the last pipeline run.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alwedo/jobmart/metrics"
	"github.com/alwedo/jobmart/pipeline"
)

// statusReporter is the slice of the pipeline the server reads.
type statusReporter interface {
	Status() pipeline.Status
}

type server struct {
	logger *slog.Logger
	pipe   statusReporter
}

func New(l *slog.Logger, p statusReporter, addr string) *http.Server {
	s := &server{logger: l, pipe: p}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", s.healthz())
	mux.HandleFunc("GET /status", s.status())

	return &http.Server{
		Addr:              addr,
		Handler:           metrics.HTTPMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *server) healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n")) //nolint: errcheck
	}
}

// status serves the last run summary. Before the first run completes it
// reports 503 so orchestration can tell "up" from "has loaded".
func (s *server) status() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := s.pipe.Status()
		w.Header().Add("Content-Type", "application/json")
		if st.LastRun.IsZero() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(st); err != nil {
			s.logger.Error("failed to encode status in server.status", slog.String("error", err.Error()))
		}
	}
}
