package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 16

// RiskService is the core the API exposes.
type RiskService interface {
	Assess(ctx context.Context, placeQuery, timeSlot string) (domain.RiskAssessment, error)
	Submit(ctx context.Context, placeText, timeSlot, severity string) (domain.AccidentRecord, error)
}

// Catalog lists the current records for the map and place picker.
type Catalog interface {
	Records() []domain.AccidentRecord
	Places() []string
}

// Server exposes the dashboard API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	service    RiskService
	catalog    Catalog
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the /api/v1 routes and /healthz,
// /readyz, and /metrics.
func NewServer(addr string, service RiskService, catalog Catalog, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		service: service,
		catalog: catalog,
		logger:  logger,
	}

	// Full paths on the root router so a method mismatch yields 405.
	router.Handle("/api/v1/risk", s.logRequests(http.HandlerFunc(s.handleAssess))).Methods(http.MethodGet)
	router.Handle("/api/v1/reports", s.logRequests(http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	router.Handle("/api/v1/places", s.logRequests(http.HandlerFunc(s.handlePlaces))).Methods(http.MethodGet)
	router.Handle("/api/v1/map", s.logRequests(http.HandlerFunc(s.handleMap))).Methods(http.MethodGet)

	router.HandleFunc("/healthz", sharedobs.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", sharedobs.ReadinessHandler(ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

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

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, err := s.service.Assess(r.Context(), q.Get("place"), q.Get("slot"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type submitRequest struct {
	Place    string `json:"place"`
	TimeSlot string `json:"time_slot"`
	Severity string `json:"severity"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	rec, err := s.service.Submit(r.Context(), req.Place, req.TimeSlot, req.Severity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePlaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"places": s.catalog.Places()})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	var slot domain.TimeSlot
	if v := r.URL.Query().Get("slot"); v != "" {
		parsed, err := domain.ParseTimeSlot(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
			return
		}
		slot = parsed
	}
	w.Header().Set("Content-Type", "application/geo+json")
	writeJSON(w, http.StatusOK, newFeatureCollection(s.catalog.Records(), slot))
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var status int

	var vErr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &vErr):
		status = http.StatusUnprocessableEntity
		resp.Reason = vErr.Reason
	case errors.Is(err, domain.ErrGeocoding):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
