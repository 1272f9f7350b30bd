// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// HistoryHandler serves the read-only ledger pages.
type HistoryHandler struct {
	store *models.HistoryStore
}

// NewHistoryHandler returns a ready-to-use handler.
func NewHistoryHandler(store *models.HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// List handles GET /api/history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := ParsePagination(r)

	filter := models.HistoryFilter{
		EventType:   models.HistoryEventType(r.URL.Query().Get("eventType")),
		SourceTitle: r.URL.Query().Get("sourceTitle"),
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("seriesId")); err == nil && v > 0 {
		filter.SeriesID = v
	}

	result, err := h.store.List(r.Context(), filter, page, pageSize)
	if err != nil {
		log.Error().Err(err).Msg("history: failed to list")
		RespondError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}
