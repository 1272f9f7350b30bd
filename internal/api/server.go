// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api assembles the HTTP surface: router, middleware and handler
// wiring for the decision and grab subsystem.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/api/handlers"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

// Dependencies carries everything the router needs.
type Dependencies struct {
	SeriesStore    *models.SeriesStore
	IndexerStore   *models.IndexerStore
	ProfileStore   *models.QualityProfileStore
	FormatStore    *models.CustomFormatStore
	BlocklistStore *models.BlocklistStore
	HistoryStore   *models.HistoryStore
	QueueStore     *models.QueueStore

	Pipeline   handlers.Searcher
	Dispatcher handlers.GrabService
	Reconciler handlers.QueueReconciler
	Metrics    *metrics.Manager
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	deps *Dependencies
}

// NewServer builds a server around its dependencies.
func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler)

	blocklist := handlers.NewBlocklistHandler(s.deps.BlocklistStore)
	history := handlers.NewHistoryHandler(s.deps.HistoryStore)
	queue := handlers.NewQueueHandler(s.deps.QueueStore, s.deps.BlocklistStore, s.deps.Reconciler)
	wanted := handlers.NewWantedHandler(s.deps.SeriesStore)
	search := handlers.NewSearchHandler(s.deps.Pipeline, s.deps.Metrics)
	grab := handlers.NewGrabHandler(s.deps.Dispatcher, s.deps.Metrics)
	indexers := handlers.NewIndexerHandler(s.deps.IndexerStore)
	series := handlers.NewSeriesHandler(s.deps.SeriesStore)
	profiles := handlers.NewProfileHandler(s.deps.ProfileStore, s.deps.FormatStore)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/blocklist", func(r chi.Router) {
			r.Get("/", blocklist.List)
			r.Delete("/bulk", blocklist.DeleteBulk)
			r.Delete("/{id}", blocklist.Delete)
		})

		r.Get("/wanted/missing", wanted.Missing)
		r.Post("/search", search.Search)

		r.Route("/grab", func(r chi.Router) {
			r.Post("/propose", grab.Propose)
			r.Post("/confirm", grab.Confirm)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", queue.List)
			r.Post("/refresh", queue.Refresh)
			r.Delete("/{id}", queue.Delete)
		})

		r.Get("/history", history.List)

		r.Route("/indexers", func(r chi.Router) {
			r.Get("/", indexers.List)
			r.Post("/", indexers.Create)
			r.Get("/{id}", indexers.Get)
			r.Put("/{id}", indexers.Update)
			r.Delete("/{id}", indexers.Delete)
		})

		r.Route("/series", func(r chi.Router) {
			r.Post("/", series.Create)
			r.Get("/{id}", series.Get)
			r.Post("/{id}/episodes", series.CreateEpisode)
		})

		r.Route("/quality-profiles", func(r chi.Router) {
			r.Get("/", profiles.List)
			r.Post("/", profiles.Create)
			r.Get("/{id}", profiles.Get)
		})

		r.Route("/custom-formats", func(r chi.Router) {
			r.Get("/", profiles.ListFormats)
			r.Post("/", profiles.CreateFormat)
		})
	})

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.deps.Metrics.GetRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	return r
}

// Serve listens on host:port until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
