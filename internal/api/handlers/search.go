// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/decision"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

// Searcher runs the decision pipeline for a wanted item.
type Searcher interface {
	Search(ctx context.Context, req *decision.SearchRequest) ([]*models.AnnotatedRelease, error)
}

// SearchHandler serves interactive searches. Results come back in rank order
// with every rejection annotated, so the caller can override the automatic
// decision per row.
type SearchHandler struct {
	pipeline Searcher
	metrics  *metrics.Manager
}

// NewSearchHandler returns a ready-to-use handler.
func NewSearchHandler(pipeline Searcher, metrics *metrics.Manager) *SearchHandler {
	return &SearchHandler{pipeline: pipeline, metrics: metrics}
}

type searchPayload struct {
	SeriesID      int `json:"seriesId"`
	SeasonNumber  int `json:"seasonNumber"`
	EpisodeNumber int `json:"episodeNumber"`
}

// Search handles POST /api/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var payload searchPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if payload.SeriesID <= 0 {
		RespondError(w, http.StatusBadRequest, "seriesId is required")
		return
	}

	start := time.Now()
	results, err := h.pipeline.Search(r.Context(), &decision.SearchRequest{
		SeriesID:      payload.SeriesID,
		SeasonNumber:  payload.SeasonNumber,
		EpisodeNumber: payload.EpisodeNumber,
		Mode:          decision.Inspect,
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Int("seriesId", payload.SeriesID).Msg("search: pipeline failed")
		h.recordSearch("error", start, results)
		RespondError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	if results == nil {
		results = []*models.AnnotatedRelease{}
	}
	h.recordSearch("ok", start, results)

	RespondJSON(w, http.StatusOK, results)
}

func (h *SearchHandler) recordSearch(result string, start time.Time, results []*models.AnnotatedRelease) {
	if h.metrics == nil {
		return
	}

	accepted := 0
	for _, candidate := range results {
		if candidate.Accepted() {
			accepted++
		}
	}
	h.metrics.RecordSearch(result, time.Since(start).Seconds(), len(results), accepted, len(results)-accepted)
}
