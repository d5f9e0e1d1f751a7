// Package server exposes repository reference snapshots over HTTP in the
// format the watch command polls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"serf-ci/src/github"
	"serf-ci/src/logger"
	"serf-ci/src/refs"
)

// RefLister lists the current references of a repository.
type RefLister interface {
	ListRefs(ctx context.Context, nwo string) (refs.Snapshot, error)
}

// Server serves GET /info/{owner}/{repo} and GET /healthz.
type Server struct {
	lister RefLister
	cache  RefCache
	log    logger.Logger
	router chi.Router
}

// New creates a Server. A nil cache disables caching.
func New(lister RefLister, cache RefCache, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	s := &Server{lister: lister, cache: cache, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/info/{owner}/{repo}", s.handleInfo)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[Server] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	nwo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
	ctx := r.Context()

	if s.cache != nil {
		snapshot, err := s.cache.Get(ctx, nwo)
		if err == nil {
			writeJSON(w, http.StatusOK, snapshot)
			return
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.Error("[Server] Cache read failed for %s: %v", nwo, err)
		}
	}

	snapshot, err := s.lister.ListRefs(ctx, nwo)
	if err != nil {
		s.log.Error("[Server] Failed to list refs for %s: %v", nwo, err)
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	if snapshot == nil {
		snapshot = refs.Snapshot{}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, nwo, snapshot); err != nil {
			s.log.Error("[Server] Cache write failed for %s: %v", nwo, err)
		}
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func statusFor(err error) int {
	if errors.Is(err, github.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
