// Package api exposes the read-only operational surface over the risk
// pipeline: portfolio, risk metrics, alerts and the composite report. The
// risk engine never depends on this package.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/defi-risk-monitor/internal/aggregator"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/report"
	"github.com/defi-risk-monitor/internal/types"
)

// AlertStore is the alert persistence surface the API needs
type AlertStore interface {
	ListForUser(ctx context.Context, userID string, unresolvedOnly bool, limit int) ([]types.Alert, error)
	Resolve(ctx context.Context, userID, alertID string) error
}

// ConfigStore supplies a user's active risk profile
type ConfigStore interface {
	ActiveConfig(ctx context.Context, userID string) (*types.UserRiskConfig, error)
}

// Pinger is anything with a health check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the operational HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	aggregator *aggregator.Aggregator
	reports    *report.Builder
	alerts     AlertStore  // optional
	configs    ConfigStore // optional
	pingers    map[string]Pinger
	logger     *logging.Logger
}

// NewServer creates the server and registers routes
func NewServer(addr string, agg *aggregator.Aggregator, reports *report.Builder, alerts AlertStore, configs ConfigStore, pingers map[string]Pinger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		aggregator: agg,
		reports:    reports,
		alerts:     alerts,
		configs:    configs,
		pingers:    pingers,
		logger:     logging.GetGlobalLogger().WithComponent("api"),
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/portfolio/{address}", s.handlePortfolio).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userId}/alerts", s.handleListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userId}/alerts/{alertId}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	v1.HandleFunc("/users/{userId}/report/{address}", s.handleReport).Methods(http.MethodGet)
}

// Start runs the server until Shutdown
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.pingers))
	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}
	s.writeJSON(w, status, checks)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	summary, err := s.aggregator.FetchAll(r.Context(), address)
	if err != nil {
		if errors.Is(err, aggregator.ErrNoPositions) {
			s.writeJSON(w, http.StatusOK, &types.PortfolioSummary{
				Owner:     address,
				Positions: []types.Position{},
				FetchedAt: time.Now().UTC(),
			})
			return
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.writeError(w, http.StatusNotImplemented, fmt.Errorf("alert store not configured"))
		return
	}
	userID := mux.Vars(r)["userId"]
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

	alerts, err := s.alerts.ListForUser(r.Context(), userID, unresolvedOnly, 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.writeError(w, http.StatusNotImplemented, fmt.Errorf("alert store not configured"))
		return
	}
	vars := mux.Vars(r)

	if err := s.alerts.Resolve(r.Context(), vars["userId"], vars["alertId"]); err != nil {
		var svcErr *types.ServiceError
		if errors.As(err, &svcErr) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, address := vars["userId"], vars["address"]

	var cfg *types.UserRiskConfig
	if s.configs != nil {
		c, err := s.configs.ActiveConfig(r.Context(), userID)
		if err != nil {
			s.logger.WithError(err).WithField("user", userID).Warn("failed to load risk config for report")
		} else {
			cfg = c
		}
	}

	doc, err := s.reports.Build(r.Context(), userID, address, cfg)
	if err != nil {
		if errors.Is(err, aggregator.ErrNoPositions) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
