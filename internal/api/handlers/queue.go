// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// QueueReconciler triggers an immediate reconciliation pass.
type QueueReconciler interface {
	ReconcileNow(ctx context.Context) error
}

// QueueHandler serves the in-flight download queue.
type QueueHandler struct {
	queue      *models.QueueStore
	blocklist  *models.BlocklistStore
	reconciler QueueReconciler
}

// NewQueueHandler returns a ready-to-use handler.
func NewQueueHandler(queue *models.QueueStore, blocklist *models.BlocklistStore, reconciler QueueReconciler) *QueueHandler {
	return &QueueHandler{queue: queue, blocklist: blocklist, reconciler: reconciler}
}

// List handles GET /api/queue
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("queue: failed to list")
		RespondError(w, http.StatusInternalServerError, "Failed to list queue")
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}

	RespondJSON(w, http.StatusOK, items)
}

// Delete handles DELETE /api/queue/{id}. With blocklist=true the release
// identity is blocked at the same time, so it never comes back in a search.
func (h *QueueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "queue item ID")
	if !ok {
		return
	}

	item, err := h.queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			RespondError(w, http.StatusNotFound, "Queue item not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("queue: failed to load item")
		RespondError(w, http.StatusInternalServerError, "Failed to delete queue item")
		return
	}

	if r.URL.Query().Get("blocklist") == "true" {
		err := h.blocklist.Insert(r.Context(), &models.BlocklistEntry{
			IdentityKey: item.BlocklistIdentity(),
			SeriesID:    item.SeriesID,
			SourceTitle: item.SourceTitle,
			Protocol:    item.Protocol,
			IndexerID:   item.IndexerID,
			InfoHash:    item.InfoHash,
			Message:     "removed from queue",
		})
		if err != nil {
			log.Error().Err(err).Int("id", id).Msg("queue: failed to blocklist item")
			RespondError(w, http.StatusInternalServerError, "Failed to blocklist queue item")
			return
		}
	}

	if err := h.queue.Delete(r.Context(), id); err != nil {
		log.Error().Err(err).Int("id", id).Msg("queue: failed to delete")
		RespondError(w, http.StatusInternalServerError, "Failed to delete queue item")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/queue/refresh
func (h *QueueHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.reconciler.ReconcileNow(r.Context()); err != nil {
		log.Error().Err(err).Msg("queue: manual reconciliation failed")
		RespondError(w, http.StatusInternalServerError, "Queue refresh failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
