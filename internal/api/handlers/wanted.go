// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// WantedHandler serves the missing-episode pages that drive searches.
type WantedHandler struct {
	series *models.SeriesStore
}

// NewWantedHandler returns a ready-to-use handler.
func NewWantedHandler(series *models.SeriesStore) *WantedHandler {
	return &WantedHandler{series: series}
}

// Missing handles GET /api/wanted/missing. With excludeInQueue=true episodes
// already covered by a queue item are filtered out so the page only shows
// actionable gaps.
func (h *WantedHandler) Missing(w http.ResponseWriter, r *http.Request) {
	page, pageSize := ParsePagination(r)

	filter := models.MissingFilter{
		MonitoredOnly:  r.URL.Query().Get("monitored") != "false",
		ExcludeInQueue: r.URL.Query().Get("excludeInQueue") == "true",
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("seriesId")); err == nil && v > 0 {
		filter.SeriesID = v
	}

	result, err := h.series.ListMissing(r.Context(), filter, page, pageSize)
	if err != nil {
		log.Error().Err(err).Msg("wanted: failed to list missing")
		RespondError(w, http.StatusInternalServerError, "Failed to list missing episodes")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}
