package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/database"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/stockcache"
	"github.com/alim08/stockcache/pkg/store"
	"github.com/alim08/stockcache/pkg/watchlist"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server holds the services behind the HTTP routes.
type Server struct {
	store     store.Store
	quotes    *stockcache.QuoteService
	charts    *stockcache.ChartService
	watchlist *watchlist.Service
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind   apperr.Kind `json:"kind"`
	Detail string      `json:"detail"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error("JSON encoding error", zap.Error(err))
	}
}

// writeError maps err to its status code and renders {kind, detail}.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	s.writeJSON(w, status, ErrorResponse{Kind: kind, Detail: apperr.DetailOf(err)})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Welcome to ASMP Backend"})
}

// migrationReporter is implemented by stores with a versioned schema.
type migrationReporter interface {
	GetMigrationStatus(ctx context.Context) ([]database.MigrationStatus, error)
}

// healthHandler reports whether the persistent store answers and, for
// stores with a schema, whether every migration has been applied.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		logger.Log.Warn("store health check failed", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"store":  err.Error(),
		})
		return
	}

	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	if mr, ok := s.store.(migrationReporter); ok {
		migrations, err := mr.GetMigrationStatus(ctx)
		if err != nil {
			logger.Log.Warn("migration status check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"store":  err.Error(),
			})
			return
		}
		body["migrations"] = migrations
		for _, m := range migrations {
			if !m.Applied {
				body["status"] = "migrations pending"
				s.writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}
	}

	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	quote, err := s.quotes.GetQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) popularHandler(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.quotes.GetPopularQuotes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) chartHandler(w http.ResponseWriter, r *http.Request) {
	chart, err := s.charts.GetChart(r.Context(), chi.URLParam(r, "symbol"), r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chart)
}

func (s *Server) chartDebugHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := s.charts.Debug(r.Context(), chi.URLParam(r, "symbol"), r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) listWatchlistHandler(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.watchlist.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, symbols)
}

func (s *Server) addWatchlistHandler(w http.ResponseWriter, r *http.Request) {
	symbol, err := s.watchlist.Add(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, MessageResponse{Message: fmt.Sprintf("%s added to watchlist", symbol)})
}

func (s *Server) removeWatchlistHandler(w http.ResponseWriter, r *http.Request) {
	symbol, err := s.watchlist.Remove(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("%s removed from watchlist", symbol)})
}
