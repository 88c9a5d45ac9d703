// Package http exposes the service's HTTP surface: health, readiness, and
// metrics endpoints plus a small JSON API for direct collection requests and
// per-user location management.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/session"
	"github.com/fernwatch/satveg-collector/internal/adapter/warehouse"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// RegionCollector brings one region's monthly observations up to date.
type RegionCollector interface {
	Collect(ctx context.Context, displayName string, lat, lon float64) (collector.Outcome, error)
}

// Summarizer aggregates a region's stored history.
type Summarizer interface {
	RegionSummary(ctx context.Context, regionID string) (warehouse.Summary, bool, error)
}

// Server exposes health, readiness, metrics, and API HTTP endpoints.
type Server struct {
	httpServer *http.Server
	collector  RegionCollector
	summarizer Summarizer
	sessions   *session.Store
	geocoder   domain.Geocoder // nil when reverse geocoding is disabled
	logger     *slog.Logger
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(addr string, ready ReadinessChecker, col RegionCollector, sum Summarizer, sessions *session.Store, geocoder domain.Geocoder, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		collector:  col,
		summarizer: sum,
		sessions:   sessions,
		geocoder:   geocoder,
		logger:     logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/collect", s.handleCollect)
	mux.HandleFunc("POST /v1/locations", s.handleAddLocation)
	mux.HandleFunc("GET /v1/locations", s.handleListLocations)
	mux.HandleFunc("DELETE /v1/locations", s.handleRemoveLocation)
	mux.HandleFunc("PATCH /v1/locations", s.handleRenameLocation)
	mux.HandleFunc("GET /v1/regions/summary", s.handleRegionSummary)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// handleCollect runs a collection synchronously for the posted coordinates.
// The Kafka request topic is the primary entry point; this endpoint serves
// ad-hoc and operational use.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req domain.CollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	displayName := req.LocationName
	if displayName == "" {
		displayName = domain.ResolveDisplayName(r.Context(), s.geocoder, req.Lat, req.Lon, s.logger)
	}

	outcome, err := s.collector.Collect(r.Context(), displayName, req.Lat, req.Lon)
	switch {
	case errors.Is(err, collector.ErrNoData):
		writeJSON(w, http.StatusOK, outcome)
	case err != nil:
		s.logger.Error("collection failed", "error", err, "region_id", outcome.RegionID)
		writeError(w, http.StatusInternalServerError, "collection failed")
	default:
		writeJSON(w, http.StatusOK, outcome)
	}
}

type addLocationRequest struct {
	UserID int64   `json:"user_id"`
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

func (s *Server) handleAddLocation(w http.ResponseWriter, r *http.Request) {
	var req addLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	cr := domain.CollectionRequest{UserID: req.UserID, Lat: req.Lat, Lon: req.Lon}
	if err := cr.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	placeName := domain.ResolveDisplayName(r.Context(), s.geocoder, req.Lat, req.Lon, s.logger)
	loc := s.sessions.AddLocation(req.UserID, req.Name, placeName, req.Lat, req.Lon)
	writeJSON(w, http.StatusCreated, loc)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	locs := s.sessions.Locations(userID)
	if locs == nil {
		locs = []session.Location{}
	}
	writeJSON(w, http.StatusOK, locs)
}

func (s *Server) handleRemoveLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !s.sessions.RemoveLocation(userID, name) {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameLocationRequest struct {
	UserID  int64  `json:"user_id"`
	Name    string `json:"name"`
	NewName string `json:"new_name"`
}

func (s *Server) handleRenameLocation(w http.ResponseWriter, r *http.Request) {
	var req renameLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.NewName == "" {
		writeError(w, http.StatusBadRequest, "name and new_name are required")
		return
	}
	if !s.sessions.RenameLocation(req.UserID, req.Name, req.NewName) {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}
	loc, _ := s.sessions.Location(req.UserID, req.NewName)
	writeJSON(w, http.StatusOK, loc)
}

// handleRegionSummary reports the stored history for a region, addressed
// either by region_id or by lat/lon.
func (s *Server) handleRegionSummary(w http.ResponseWriter, r *http.Request) {
	regionID := r.URL.Query().Get("region_id")
	if regionID == "" {
		lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "region_id or lat/lon is required")
			return
		}
		regionID = domain.DeriveRegionID(lat, lon)
	}

	sum, found, err := s.summarizer.RegionSummary(r.Context(), regionID)
	if err != nil {
		s.logger.Error("region summary failed", "error", err, "region_id", regionID)
		writeError(w, http.StatusInternalServerError, "summary failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no observations for region")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"region_id":    sum.RegionID,
		"region_name":  sum.RegionName,
		"month_count":  sum.MonthCount,
		"first_month":  sum.FirstMonth,
		"latest_month": sum.LatestMonth,
		"mean_ndvi":    sum.MeanNDVI,
		"mean_cloud":   sum.MeanCloud,
		"text":         sum.Text(),
	})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return 0, false
	}
	return userID, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
