// Package api serves the engine's operator query surface: the dashboard
// summary, alert transitions, and mitigation inspection/removal. The
// dashboard UI itself lives elsewhere; this is JSON only.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vigilsec/vigilsec/internal/alert"
	"github.com/vigilsec/vigilsec/internal/mitigate"
	"github.com/vigilsec/vigilsec/internal/monitor"
	"github.com/vigilsec/vigilsec/internal/score"
)

// Server exposes the engine over HTTP.
type Server struct {
	engine *monitor.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates the operator API server.
func NewServer(engine *monitor.Engine, logger *slog.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler with tracing middleware applied.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "vigilsec-api")
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleAlerts)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/investigate", s.handleInvestigate)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleResolve)
	s.mux.HandleFunc("GET /api/v1/mitigations", s.handleMitigations)
	s.mux.HandleFunc("DELETE /api/v1/mitigations/{type}/{entity}", s.handleRemoveMitigation)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Summary())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	f := alert.Filter{
		Severity: score.Severity(r.URL.Query().Get("severity")),
		EntityID: r.URL.Query().Get("entity_id"),
	}
	alerts := s.engine.Manager().Active(f)
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Manager().Investigate(id); err != nil {
		writeError(w, transitionStatus(err), err)
		return
	}
	a, _ := s.engine.Manager().Get(id)
	writeJSON(w, http.StatusOK, a)
}

type resolveRequest struct {
	Notes         string `json:"notes"`
	FalsePositive bool   `json:"false_positive"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if r.Body != nil {
		// An empty body resolves with no notes.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := s.engine.Manager().Resolve(id, req.Notes, req.FalsePositive); err != nil {
		writeError(w, transitionStatus(err), err)
		return
	}
	a, _ := s.engine.Manager().Get(id)
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMitigations(w http.ResponseWriter, r *http.Request) {
	facts, err := s.engine.Mitigator().Active(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if facts == nil {
		facts = []mitigate.Fact{}
	}
	writeJSON(w, http.StatusOK, facts)
}

func (s *Server) handleRemoveMitigation(w http.ResponseWriter, r *http.Request) {
	mtype := mitigate.Action(r.PathValue("type"))
	entity := r.PathValue("entity")
	if err := s.engine.Mitigator().Remove(r.Context(), mtype, entity); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func transitionStatus(err error) int {
	switch {
	case errors.Is(err, alert.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, alert.ErrTerminal), errors.Is(err, alert.ErrBadState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
