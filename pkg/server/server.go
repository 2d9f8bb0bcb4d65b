// Package server exposes the stored statistics and operational endpoints
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eirsights/eirsights/pkg/collector"
	"github.com/eirsights/eirsights/pkg/log"
	"github.com/eirsights/eirsights/pkg/storage"
	"github.com/eirsights/eirsights/pkg/types"
)

// defaultHistoryDays bounds /api/series responses when no range is given.
const defaultHistoryDays = 30

// Server serves the read-only statistics API.
type Server struct {
	db         storage.Database
	collector  *collector.Collector
	listenAddr string

	httpServer *http.Server
}

// Configured sets up the Server based on flags.
func Configured(db storage.Database, c *collector.Collector) *Server {
	s := &Server{
		db:        db,
		collector: c,
	}

	listenAddr := lflag.String("http-listen", ":8321", "HTTP server listen address")

	lflag.Do(func() {
		s.listenAddr = *listenAddr
	})

	return s
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/series/{metric}", s.handleSeries)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return gziphandler.GzipHandler(mux)
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// handleSeries returns the stored statistic windows for one series. The
// metric comes from the path; an optional tariff query parameter narrows the
// series to one band, and start/end (RFC 3339) bound the range.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	metric := types.Metric(r.PathValue("metric"))
	if !metric.Valid() {
		writeJSONError(w, "unknown metric", http.StatusNotFound)
		return
	}

	tariff := types.Tariff(r.URL.Query().Get("tariff"))
	if !tariff.Valid() {
		writeJSONError(w, "unknown tariff", http.StatusBadRequest)
		return
	}
	key := types.SeriesKey{Metric: metric, Tariff: tariff}

	end := time.Now().UTC().Add(time.Hour)
	start := end.AddDate(0, 0, -defaultHistoryDays)
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			writeJSONError(w, "invalid start", http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			writeJSONError(w, "invalid end", http.StatusBadRequest)
			return
		}
	}

	records, err := s.db.GetStatistics(r.Context(), key, start, end)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load statistics", slog.Any("error", err))
		writeJSONError(w, "failed to load statistics", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.StatisticRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		Series  string                  `json:"series"`
		Records []types.StatisticRecord `json:"records"`
	}{Series: key.ID(), Records: records}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// handleHealthz reports ok while stored data is fresh enough, and 503 once
// the newest sample exceeds the staleness threshold.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	latest, err := s.db.GetLatestSampleTime(r.Context())
	if err != nil {
		writeJSONError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if !latest.IsZero() {
		if age := time.Since(latest); age > s.collector.Settings().StalenessThreshold {
			writeJSONError(w, fmt.Sprintf("data is stale, newest sample is %s old", age.Truncate(time.Minute)), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
