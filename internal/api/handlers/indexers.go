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

// IndexerHandler serves indexer CRUD. The enabled flag here is what controls
// search fan-out membership.
type IndexerHandler struct {
	store *models.IndexerStore
}

// NewIndexerHandler returns a ready-to-use handler.
func NewIndexerHandler(store *models.IndexerStore) *IndexerHandler {
	return &IndexerHandler{store: store}
}

type indexerPayload struct {
	Name           string          `json:"name"`
	BaseURL        string          `json:"baseUrl"`
	APIKey         string          `json:"apiKey"`
	Protocol       models.Protocol `json:"protocol"`
	Enabled        bool            `json:"enabled"`
	TimeoutSeconds int             `json:"timeoutSeconds"`
}

// List handles GET /api/indexers
func (h *IndexerHandler) List(w http.ResponseWriter, r *http.Request) {
	indexers, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("indexers: failed to list")
		RespondError(w, http.StatusInternalServerError, "Failed to list indexers")
		return
	}
	if indexers == nil {
		indexers = []*models.Indexer{}
	}

	RespondJSON(w, http.StatusOK, indexers)
}

// Get handles GET /api/indexers/{id}
func (h *IndexerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "indexer ID")
	if !ok {
		return
	}

	indexer, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			RespondError(w, http.StatusNotFound, "Indexer not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("indexers: failed to get")
		RespondError(w, http.StatusInternalServerError, "Failed to get indexer")
		return
	}

	RespondJSON(w, http.StatusOK, indexer)
}

// Create handles POST /api/indexers
func (h *IndexerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload indexerPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	created, err := h.store.Create(r.Context(), &models.Indexer{
		Name:           payload.Name,
		BaseURL:        payload.BaseURL,
		APIKey:         payload.APIKey,
		Protocol:       payload.Protocol,
		Enabled:        payload.Enabled,
		TimeoutSeconds: payload.TimeoutSeconds,
	})
	if err != nil {
		log.Error().Err(err).Msg("indexers: failed to create")
		RespondError(w, http.StatusBadRequest, "Failed to create indexer: "+err.Error())
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

// Update handles PUT /api/indexers/{id}
func (h *IndexerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "indexer ID")
	if !ok {
		return
	}

	var payload indexerPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	updated, err := h.store.Update(r.Context(), &models.Indexer{
		ID:             id,
		Name:           payload.Name,
		BaseURL:        payload.BaseURL,
		APIKey:         payload.APIKey,
		Protocol:       payload.Protocol,
		Enabled:        payload.Enabled,
		TimeoutSeconds: payload.TimeoutSeconds,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			RespondError(w, http.StatusNotFound, "Indexer not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("indexers: failed to update")
		RespondError(w, http.StatusBadRequest, "Failed to update indexer: "+err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/indexers/{id}
func (h *IndexerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "indexer ID")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			RespondError(w, http.StatusNotFound, "Indexer not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("indexers: failed to delete")
		RespondError(w, http.StatusInternalServerError, "Failed to delete indexer")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
