package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// maxDeadLetterLimit caps the dead-letter listing page size.
const maxDeadLetterLimit = 500

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// API v1 routes (read-only, no auth: bind to a trusted interface)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/deadletters", s.handleDeadLetters)
	})

	return r
}

// handleHealth reports overall service health.
//
// The service is "ok" when every registered dependency check passes and
// "degraded" otherwise; a degraded datalogger keeps buffering, so this
// returns 200 either way and monitoring alerts on the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	status := "ok"

	for name, check := range s.checks {
		if err := check.HealthCheck(r.Context()); err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

// handleStats reports queue depth and dead-letter counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.GetStats(r.Context())
	if err != nil {
		s.logger.Error("reading queue stats", "error", err)
		writeInternalError(w, "reading queue stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleDeadLetters lists recent permanently failed readings.
//
// Query parameters:
//   - limit: Maximum rows to return (default 50, capped at 500)
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxDeadLetterLimit {
		limit = maxDeadLetterLimit
	}

	letters, err := s.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading dead letters", "error", err)
		writeInternalError(w, "reading dead letters")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(letters),
		"dead_letters": letters,
	})
}
