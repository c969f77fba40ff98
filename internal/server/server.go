package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/connection"
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/mission"
	"github.com/questforge/questforge/internal/registry"
	"github.com/questforge/questforge/internal/reward"
	"github.com/questforge/questforge/internal/storage"
	"github.com/questforge/questforge/internal/verify"
	"github.com/questforge/questforge/pkg/utils"
)

// HTTPServer exposes the verification, mission and reward APIs
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	connection     connection.Manager
	registry       *registry.Registry
	verifier       *verify.Manager
	missions       *mission.Engine
	rewards        *reward.Ledger
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	conn connection.Manager,
	reg *registry.Registry,
	verifier *verify.Manager,
	missions *mission.Engine,
	rewards *reward.Ledger,
	metricsManager *metrics.Manager,
) *HTTPServer {
	s := &HTTPServer{
		config:         cfg,
		storage:        store,
		connection:     conn,
		registry:       reg,
		verifier:       verifier,
		missions:       missions,
		rewards:        rewards,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("server"),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// App registry
	api.HandleFunc("/apps", s.listAppsHandler).Methods("GET")
	api.HandleFunc("/apps/{app_id}", s.getAppHandler).Methods("GET")

	// Verification sessions
	api.HandleFunc("/verifications", s.startVerificationHandler).Methods("POST")
	api.HandleFunc("/verifications/{address}/{app_id}", s.getVerificationHandler).Methods("GET")
	api.HandleFunc("/verifications/{address}/{app_id}", s.cancelVerificationHandler).Methods("DELETE")

	// Missions
	api.HandleFunc("/missions/{address}", s.listMissionsHandler).Methods("GET")
	api.HandleFunc("/missions/{address}/checkin", s.checkinHandler).Methods("POST")
	api.HandleFunc("/missions/{address}/{mission_id}/progress", s.missionProgressHandler).Methods("POST")

	// Cubes
	api.HandleFunc("/cubes/{address}", s.getCubesHandler).Methods("GET")
	api.HandleFunc("/cubes/{address}/limit", s.getCubeLimitHandler).Methods("GET")
	api.HandleFunc("/leaderboard", s.leaderboardHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateUptime()
		go s.componentHealthUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// componentHealthUpdater refreshes component health gauges periodically
func (s *HTTPServer) componentHealthUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateUptime()
		pm := s.metricsManager.GetPrometheusMetrics()

		if s.storage != nil {
			pm.SetComponentHealth("storage", s.storage.Ping() == nil)
		}
		if s.connection != nil {
			pm.SetComponentHealth("chain", s.connection.IsConnected())
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response, mapping application error codes
// to HTTP statuses.
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch utils.ErrorCode(err) {
	case utils.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case utils.ErrCodeNotFound:
		status = http.StatusNotFound
	case utils.ErrCodeLimitExceeded:
		status = http.StatusTooManyRequests
	case utils.ErrCodeRemoteUnavailable, utils.ErrCodeRateLimited, utils.ErrCodeConnection:
		status = http.StatusServiceUnavailable
	}

	resp := map[string]interface{}{
		"error":     err.Error(),
		"code":      utils.ErrorCode(err),
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if status >= 500 {
		s.logger.WithError(err).WithField("status", status).Error("HTTP error")
	}
	s.writeJSON(w, status, resp)
}
