package main

import (
	"net/http"

	"github.com/alim08/stockcache/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// newRouter wires routes and middleware. protect guards watchlist
// mutations; nil leaves them open.
func newRouter(s *Server, protect func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/", s.rootHandler)
	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/stock", func(r chi.Router) {
		// static route before the symbol parameter
		r.Get("/ticker/popular", s.popularHandler)
		r.Get("/{symbol}", s.quoteHandler)
	})

	r.Route("/chart", func(r chi.Router) {
		r.Get("/debug/{symbol}", s.chartDebugHandler)
		r.Get("/{symbol}", s.chartHandler)
	})

	r.Route("/watchlist", func(r chi.Router) {
		r.Get("/", s.listWatchlistHandler)
		r.Group(func(r chi.Router) {
			if protect != nil {
				r.Use(protect)
			}
			r.Post("/{symbol}", s.addWatchlistHandler)
			r.Delete("/{symbol}", s.removeWatchlistHandler)
		})
	})

	return r
}
