// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/grab"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

// GrabService is the two-phase dispatch protocol.
type GrabService interface {
	Propose(release models.Release) *grab.Proposal
	ConfirmWithRetry(ctx context.Context, req *grab.Request) (*grab.DispatchResult, error)
}

// GrabHandler serves the propose/confirm endpoints.
type GrabHandler struct {
	dispatcher GrabService
	metrics    *metrics.Manager
}

// NewGrabHandler returns a ready-to-use handler.
func NewGrabHandler(dispatcher GrabService, metrics *metrics.Manager) *GrabHandler {
	return &GrabHandler{dispatcher: dispatcher, metrics: metrics}
}

// Propose handles POST /api/grab/propose
func (h *GrabHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var release models.Release
	if !DecodeJSON(w, r, &release) {
		return
	}
	if release.GUID == "" {
		RespondError(w, http.StatusBadRequest, "guid is required")
		return
	}

	proposal := h.dispatcher.Propose(release)

	RespondJSON(w, http.StatusOK, proposal)
}

// Confirm handles POST /api/grab/confirm
func (h *GrabHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req grab.Request
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.dispatcher.ConfirmWithRetry(r.Context(), &req)
	if err != nil {
		h.respondConfirmError(w, &req, result, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordGrab(string(result.Status))
	}

	RespondJSON(w, http.StatusOK, result)
}

func (h *GrabHandler) respondConfirmError(w http.ResponseWriter, req *grab.Request, result *grab.DispatchResult, err error) {
	if h.metrics != nil {
		status := "error"
		if result != nil {
			status = string(result.Status)
		}
		h.metrics.RecordGrab(status)
	}

	switch {
	case errors.Is(err, grab.ErrNoProposal):
		RespondError(w, http.StatusGone, "No pending proposal for this release")
	case errors.Is(err, grab.ErrConfirmationRequired):
		RespondError(w, http.StatusConflict, "Release mapping is unresolved; provide an override")
	case errors.Is(err, grab.ErrUnknownSeries), errors.Is(err, grab.ErrUnknownEpisode):
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, grab.ErrTransientExhausted):
		RespondError(w, http.StatusBadGateway, "Download client kept failing; release was not grabbed")
	default:
		log.Error().Err(err).Str("guid", req.GUID).Msg("grab: confirm failed")
		RespondError(w, http.StatusInternalServerError, "Grab failed")
	}
}
