// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// BlocklistHandler serves the blocklist pages and removal endpoints.
type BlocklistHandler struct {
	store *models.BlocklistStore
}

// NewBlocklistHandler returns a ready-to-use handler.
func NewBlocklistHandler(store *models.BlocklistStore) *BlocklistHandler {
	return &BlocklistHandler{store: store}
}

// List handles GET /api/blocklist
func (h *BlocklistHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := ParsePagination(r)

	var filter models.BlocklistFilter
	if v, err := strconv.Atoi(r.URL.Query().Get("seriesId")); err == nil && v > 0 {
		filter.SeriesID = v
	}
	if v := r.URL.Query().Get("protocol"); v != "" {
		filter.Protocol = models.Protocol(v)
	}

	sort := models.BlocklistSort{
		Key:        r.URL.Query().Get("sortKey"),
		Descending: r.URL.Query().Get("sortDir") != "asc",
	}

	result, err := h.store.List(r.Context(), filter, sort, page, pageSize)
	if err != nil {
		log.Error().Err(err).Msg("blocklist: failed to list")
		RespondError(w, http.StatusInternalServerError, "Failed to list blocklist")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// Delete handles DELETE /api/blocklist/{id}
func (h *BlocklistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "blocklist entry ID")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			RespondError(w, http.StatusNotFound, "Blocklist entry not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("blocklist: failed to delete")
		RespondError(w, http.StatusInternalServerError, "Failed to delete blocklist entry")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type blocklistBulkPayload struct {
	IDs []int `json:"ids"`
}

// DeleteBulk handles DELETE /api/blocklist/bulk
func (h *BlocklistHandler) DeleteBulk(w http.ResponseWriter, r *http.Request) {
	var payload blocklistBulkPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if len(payload.IDs) == 0 {
		RespondError(w, http.StatusBadRequest, "No blocklist entry IDs provided")
		return
	}

	if err := h.store.DeleteBulk(r.Context(), payload.IDs); err != nil {
		log.Error().Err(err).Ints("ids", payload.IDs).Msg("blocklist: failed to delete bulk")
		RespondError(w, http.StatusInternalServerError, "Failed to delete blocklist entries")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
