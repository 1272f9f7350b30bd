// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// SeriesHandler serves the minimal series/episode management endpoints that
// populate the wanted-item catalog.
type SeriesHandler struct {
	store *models.SeriesStore
}

// NewSeriesHandler returns a ready-to-use handler.
func NewSeriesHandler(store *models.SeriesStore) *SeriesHandler {
	return &SeriesHandler{store: store}
}

// Get handles GET /api/series/{id}
func (h *SeriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "series ID")
	if !ok {
		return
	}

	series, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			RespondError(w, http.StatusNotFound, "Series not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("series: failed to get")
		RespondError(w, http.StatusInternalServerError, "Failed to get series")
		return
	}

	RespondJSON(w, http.StatusOK, series)
}

// Create handles POST /api/series
func (h *SeriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var series models.Series
	if !DecodeJSON(w, r, &series) {
		return
	}

	created, err := h.store.Create(r.Context(), &series)
	if err != nil {
		log.Error().Err(err).Msg("series: failed to create")
		RespondError(w, http.StatusBadRequest, "Failed to create series: "+err.Error())
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

// CreateEpisode handles POST /api/series/{id}/episodes
func (h *SeriesHandler) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "series ID")
	if !ok {
		return
	}

	var episode models.Episode
	if !DecodeJSON(w, r, &episode) {
		return
	}
	episode.SeriesID = id

	created, err := h.store.CreateEpisode(r.Context(), &episode)
	if err != nil {
		log.Error().Err(err).Int("seriesId", id).Msg("series: failed to create episode")
		RespondError(w, http.StatusBadRequest, "Failed to create episode: "+err.Error())
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}
