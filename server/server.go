// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spectrum-notifier/pkg/notifier"
	"spectrum-notifier/poll"
)

// Poller is the cycle runner behind the manual triggers.
type Poller interface {
	CheckAll(ctx context.Context) error
	PostLatest(ctx context.Context, subscriberID string) (*notifier.RenderedThread, error)
	Running() bool
}

// Server handles HTTP requests.
type Server struct {
	poller Poller
	logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(poller Poller, logger *slog.Logger) *Server {
	return &Server{
		poller: poller,
		logger: logger,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/pollz", s.handlePoll)
	r.Post("/subscribers/{id}/post-latest", s.handlePostLatest)
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute, // a manual cycle can take a while
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"cycle_running": s.poller.Running(),
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")

	err := s.poller.CheckAll(r.Context())
	switch {
	case errors.Is(err, poll.ErrCycleInProgress):
		s.writeJSON(w, http.StatusConflict, map[string]string{"status": "in_progress"})
	case err != nil:
		s.logger.Error("Poll check failed", "error", err)
		http.Error(w, "Check failed", http.StatusInternalServerError)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

func (s *Server) handlePostLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Info("Post latest triggered", "subscriber_id", id)

	msg, err := s.poller.PostLatest(r.Context(), id)
	if err != nil && msg == nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("Post latest failed", "subscriber_id", id, "error", err)
		}
		s.writeJSON(w, status, map[string]string{"status": "failed", "error": err.Error()})
		return
	}

	resp := map[string]string{"status": "posted", "title": msg.Title, "url": msg.URL}
	if err != nil {
		// Sent, but the cursor did not move.
		resp["warning"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, poll.ErrUnknownSubscriber):
		return http.StatusNotFound
	case errors.Is(err, poll.ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, poll.ErrNoThreads):
		return http.StatusUnprocessableEntity
	case errors.Is(err, poll.ErrSessionUnavailable), errors.Is(err, poll.ErrDetailUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
