package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/config"
	"github.com/tributary-ai/adaptive-router/internal/engine"
	"github.com/tributary-ai/adaptive-router/internal/orchestrator"
	"github.com/tributary-ai/adaptive-router/internal/routing"
	"github.com/tributary-ai/adaptive-router/internal/security"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Server represents the HTTP server
type Server struct {
	engine     *engine.Engine
	httpServer *http.Server
	logger     *logrus.Logger
	config     config.ServerConfig
	auth       *security.AdminAuth
	limiter    *security.RateLimiter
}

// NewServer creates a new server instance
func NewServer(e *engine.Engine, cfg config.ServerConfig, sec config.SecurityConfig, logger *logrus.Logger) *Server {
	return &Server{
		engine:  e,
		logger:  logger,
		config:  cfg,
		auth:    security.NewAdminAuth(sec.Admin, logger),
		limiter: security.NewRateLimiter(sec.RateLimit, logger),
	}
}

// Handler returns the routed handler without starting a listener
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting adaptive router server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping adaptive router server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()

	api.Handle("/generate", s.limiter.Middleware()(http.HandlerFunc(s.handleGenerate))).Methods("POST")

	api.HandleFunc("/plan", s.handlePlan).Methods("POST")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/learning", s.handleLearning).Methods("GET")
	api.HandleFunc("/experiments", s.handleExperiments).Methods("GET")
	api.HandleFunc("/experiments/{id}", s.handleGetExperiment).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.auth.Middleware())
	admin.HandleFunc("/providers/{name}/reset", s.handleResetProvider).Methods("POST")
	admin.HandleFunc("/providers/{name}/enabled", s.handleSetProviderEnabled).Methods("POST")
	admin.HandleFunc("/shadow", s.handleSetShadow).Methods("POST")

	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.engine.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
			if s.config.MaxBodyBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

type planRequest struct {
	Prompt string           `json:"prompt"`
	Budget types.BudgetTier `json:"budget,omitempty"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleGenerate plans and executes a request
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	exec, err := s.engine.Orchestrator.Execute(r.Context(), req)
	if err != nil {
		s.writeRouteError(w, err, exec)
		return
	}

	s.writeJSON(w, http.StatusOK, exec)
}

// handlePlan returns the routing plan without executing it
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	plan, err := s.engine.Orchestrator.Plan(r.Context(), req.Prompt, req.Budget)
	if err != nil {
		s.writeRouteError(w, err, nil)
		return
	}

	s.writeJSON(w, http.StatusOK, plan)
}

// handleListProviders returns the ranked scorecard with live availability
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	ranked := s.engine.Scorecard.GetRankedProviders()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": ranked,
		"statuses":  s.engine.Pool.ProviderStatuses(r.Context()),
		"weights":   s.engine.Scorecard.Weights(),
		"count":     len(ranked),
	})
}

// handleLearning returns the optimizer state and Q table
func (s *Server) handleLearning(w http.ResponseWriter, r *http.Request) {
	opt := s.engine.Optimizer

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"epsilon": opt.Epsilon(),
		"updates": opt.Updates(),
		"state":   opt.State(),
		"q_table": opt.Table(),
	})
}

// handleExperiments returns recent shadow experiments and lab counters
func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	lab := s.engine.Lab

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":     lab.Enabled(),
		"experiments": lab.Experiments(),
		"weights":     lab.Weights(),
		"stats":       lab.Stats(),
	})
}

// handleGetExperiment returns one experiment by ID
func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	exp, ok := s.engine.Lab.Experiment(id)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Experiment %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

// handleEvents returns the bounded event history
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	history := s.engine.Bus.History()
	published, dropped := s.engine.Bus.Counts()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":    history,
		"count":     len(history),
		"published": published,
		"dropped":   dropped,
	})
}

// handleHealthCheck reports healthy while at least one provider can serve
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	statuses := s.engine.Pool.ProviderStatuses(r.Context())

	serving := 0
	for _, status := range statuses {
		if status.Available && status.Enabled {
			serving++
		}
	}

	status, code := "healthy", http.StatusOK
	if serving == 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"serving":   serving,
		"providers": statuses,
		"timestamp": time.Now().Unix(),
	})
}

// handleResetProvider clears a provider's rolling statistics
func (s *Server) handleResetProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if !s.engine.Scorecard.Reset(name) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", name))
		return
	}

	s.logAdmin(r, "reset_provider", logrus.Fields{"provider": name})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"provider": name, "reset": true})
}

// handleSetProviderEnabled toggles a provider administratively
func (s *Server) handleSetProviderEnabled(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	enabled, ok := s.decodeToggle(w, r)
	if !ok {
		return
	}
	if !s.engine.Pool.SetEnabled(name, enabled) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", name))
		return
	}

	s.logAdmin(r, "set_provider_enabled", logrus.Fields{"provider": name, "enabled": enabled})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"provider": name, "enabled": enabled})
}

// handleSetShadow toggles shadow mode
func (s *Server) handleSetShadow(w http.ResponseWriter, r *http.Request) {
	enabled, ok := s.decodeToggle(w, r)
	if !ok {
		return
	}
	s.engine.Lab.SetEnabled(enabled)

	s.logAdmin(r, "set_shadow", logrus.Fields{"enabled": enabled})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"shadow_enabled": enabled})
}

// Helper functions

func (s *Server) decodeToggle(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return false, false
	}
	if req.Enabled == nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "enabled is required")
		return false, false
	}
	return *req.Enabled, true
}

func (s *Server) logAdmin(r *http.Request, action string, fields logrus.Fields) {
	fields["action"] = action
	if claims, ok := security.AdminFromContext(r.Context()); ok {
		fields["subject"] = claims.Subject
	}
	s.logger.WithFields(fields).Info("Admin action")
}

func (s *Server) writeRouteError(w http.ResponseWriter, err error, exec *orchestrator.Execution) {
	var exhausted *routing.RouteExhaustedError
	switch {
	case errors.Is(err, orchestrator.ErrEmptyPrompt):
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exhausted), errors.Is(err, routing.ErrNoProviders):
		resp := map[string]interface{}{
			"error": map[string]interface{}{
				"message": err.Error(),
				"type":    "route_exhausted",
				"code":    http.StatusServiceUnavailable,
			},
			"timestamp": time.Now().Unix(),
		}
		if exhausted != nil {
			resp["attempts"] = exhausted.AttemptsNeeded
			resp["history"] = exhausted.History
		}
		if exec != nil {
			resp["plan"] = exec.Plan
		}
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		s.logger.WithError(err).Error("Request failed")
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
