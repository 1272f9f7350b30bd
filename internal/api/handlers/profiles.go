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

// ProfileHandler serves quality profiles and custom formats.
type ProfileHandler struct {
	profiles *models.QualityProfileStore
	formats  *models.CustomFormatStore
}

// NewProfileHandler returns a ready-to-use handler.
func NewProfileHandler(profiles *models.QualityProfileStore, formats *models.CustomFormatStore) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, formats: formats}
}

// List handles GET /api/quality-profiles
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("profiles: failed to list")
		RespondError(w, http.StatusInternalServerError, "Failed to list quality profiles")
		return
	}
	if profiles == nil {
		profiles = []*models.QualityProfile{}
	}

	RespondJSON(w, http.StatusOK, profiles)
}

// Get handles GET /api/quality-profiles/{id}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "id", "quality profile ID")
	if !ok {
		return
	}

	profile, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			RespondError(w, http.StatusNotFound, "Quality profile not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("profiles: failed to get")
		RespondError(w, http.StatusInternalServerError, "Failed to get quality profile")
		return
	}

	RespondJSON(w, http.StatusOK, profile)
}

// Create handles POST /api/quality-profiles
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var profile models.QualityProfile
	if !DecodeJSON(w, r, &profile) {
		return
	}

	created, err := h.profiles.Create(r.Context(), &profile)
	if err != nil {
		log.Error().Err(err).Msg("profiles: failed to create")
		RespondError(w, http.StatusBadRequest, "Failed to create quality profile: "+err.Error())
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

// ListFormats handles GET /api/custom-formats
func (h *ProfileHandler) ListFormats(w http.ResponseWriter, r *http.Request) {
	formats, err := h.formats.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("profiles: failed to list custom formats")
		RespondError(w, http.StatusInternalServerError, "Failed to list custom formats")
		return
	}
	if formats == nil {
		formats = []*models.CustomFormat{}
	}

	RespondJSON(w, http.StatusOK, formats)
}

// CreateFormat handles POST /api/custom-formats
func (h *ProfileHandler) CreateFormat(w http.ResponseWriter, r *http.Request) {
	var format models.CustomFormat
	if !DecodeJSON(w, r, &format) {
		return
	}

	created, err := h.formats.Create(r.Context(), &format)
	if err != nil {
		log.Error().Err(err).Msg("profiles: failed to create custom format")
		RespondError(w, http.StatusBadRequest, "Failed to create custom format: "+err.Error())
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}
