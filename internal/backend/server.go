// Package backend is an in-memory sightings API for local runs and tests.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config configures the mock API.
type Config struct {
	// Addr to listen on, e.g. ":8080"
	Addr string

	// DataFile persists items as JSON when set
	DataFile string

	// FailureRate is the fraction of item requests answered with 500
	FailureRate float64

	// Latency is added to every item request
	Latency time.Duration
}

// DefaultConfig returns the configuration used by `shroomload serve`.
func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// Server serves the sightings API.
type Server struct {
	config     Config
	store      *Store
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	requestCount atomic.Int64
	injected     atomic.Int64
	startTime    time.Time
}

// NewServer creates a server. A nil logger discards output.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return nil, fmt.Errorf("failure rate %v out of range [0,1]", cfg.FailureRate)
	}
	if cfg.Latency < 0 {
		return nil, fmt.Errorf("latency must be >= 0, got %s", cfg.Latency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := NewStore(cfg.DataFile)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    cfg,
		store:     store,
		logger:    logger,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/items", func(r chi.Router) {
		r.Use(s.faultMiddleware)

		r.Post("/", s.createItem)
		r.Get("/", s.listItems)
		r.Get("/{id}", s.getItem)
		r.Put("/{id}", s.updateItem)
		r.Delete("/{id}", s.deleteItem)
	})
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the backing store.
func (s *Server) Store() *Store {
	return s.store
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.String("addr", s.config.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Latency > 0 {
			select {
			case <-time.After(s.config.Latency):
			case <-r.Context().Done():
				return
			}
		}

		if s.config.FailureRate > 0 && rand.Float64() < s.config.FailureRate {
			s.injected.Add(1)
			s.respondError(w, http.StatusInternalServerError, errors.New("injected failure"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"items":    s.store.Len(),
		"requests": s.requestCount.Load(),
		"injected": s.injected.Load(),
		"uptime":   time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var item Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := item.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := s.store.Create(item); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			s.respondError(w, http.StatusConflict, err)
			return
		}
		s.logger.Error("failed to create item", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}

	s.respondJSON(w, http.StatusCreated, item)
}

func (s *Server) listItems(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var item Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := item.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	existing, err := s.store.Get(id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	item.ID = id
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(id, item); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Error("store error", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
