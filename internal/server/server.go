// Package server provides the admin HTTP surface of the entity store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/entitystore/internal/errors"
	"github.com/devrev/pairdb/entitystore/internal/health"
	"github.com/devrev/pairdb/entitystore/internal/index"
	"github.com/devrev/pairdb/entitystore/internal/model"
)

// RepairQueue exposes the repair backlog
type RepairQueue interface {
	Outstanding(ctx context.Context) (int64, error)
	VerifyOnce(ctx context.Context) (int, error)
}

// IndexRefresher waits for the search index to catch up
type IndexRefresher interface {
	Execute(ctx context.Context) (index.RefreshInfo, error)
}

// EntityReader reads the newest visible version of an entity
type EntityReader interface {
	Load(ctx context.Context, scope model.CollectionScope, id model.ID) (*model.Entity, error)
}

// Config holds admin server configuration
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MetricsPath     string
	MetricsGatherer prometheus.Gatherer // nil disables /metrics
}

// AdminServer serves health, metrics and repair endpoints
type AdminServer struct {
	router     *mux.Router
	httpServer *http.Server
	health     *health.Checker
	repair     RepairQueue
	refresher  IndexRefresher
	entities   EntityReader
	logger     *zap.Logger
}

// NewAdminServer creates the server and its routes. refresher and entities may be
// nil; their routes are then not registered.
func NewAdminServer(cfg Config, checker *health.Checker, repair RepairQueue, refresher IndexRefresher, entities EntityReader, logger *zap.Logger) *AdminServer {
	router := mux.NewRouter()
	s := &AdminServer{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		health:    checker,
		repair:    repair,
		refresher: refresher,
		entities:  entities,
		logger:    logger,
	}
	s.setupRoutes(cfg)
	return s
}

func (s *AdminServer) setupRoutes(cfg Config) {
	s.router.Use(Recovery(s.logger), RequestID, Logging(s.logger))

	s.router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	if cfg.MetricsGatherer != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/repair/outstanding", s.repairOutstanding).Methods(http.MethodGet)
	s.router.HandleFunc("/repair/verify", s.repairVerify).Methods(http.MethodPost)
	if s.refresher != nil {
		s.router.HandleFunc("/index/refresh", s.indexRefresh).Methods(http.MethodPost)
	}
	if s.entities != nil {
		s.router.HandleFunc("/entities/{application}/{collection}/{id}", s.getEntity).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "endpoint not found"})
	})
}

// Handler returns the router
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *AdminServer) Start() error {
	s.logger.Info("Starting admin server", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

func (s *AdminServer) repairOutstanding(w http.ResponseWriter, r *http.Request) {
	n, err := s.repair.Outstanding(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"outstanding": n})
}

func (s *AdminServer) repairVerify(w http.ResponseWriter, r *http.Request) {
	n, err := s.repair.VerifyOnce(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"redelivered": n})
}

func (s *AdminServer) indexRefresh(w http.ResponseWriter, r *http.Request) {
	info, err := s.refresher.Execute(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"found":      info.Found,
		"elapsed_ms": info.Elapsed.Milliseconds(),
		"searches":   info.Searches,
	})
}

func (s *AdminServer) getEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := model.ParseID(vars["id"])
	if err != nil {
		s.writeError(w, r, storeerrors.InvalidArgument("invalid entity id", err))
		return
	}
	scope := model.NewCollectionScope(vars["application"], vars["collection"])

	entity, err := s.entities.Load(r.Context(), scope, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

type errorBody struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func (s *AdminServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Admin request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{Code: http.StatusText(status), Message: err.Error()})
}

func httpStatus(err error) int {
	switch storeerrors.GetCode(err) {
	case storeerrors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case storeerrors.ErrCodeNotFound:
		return http.StatusNotFound
	case storeerrors.ErrCodeInvalidState, storeerrors.ErrCodeConstraintViolation:
		return http.StatusConflict
	case storeerrors.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
