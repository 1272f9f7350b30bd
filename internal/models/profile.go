// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/dbinterface"
)

// ProfileQuality is one allowed quality in a profile. Position in the
// Qualities slice defines the rank: index 0 is the worst allowed quality.
type ProfileQuality struct {
	Name    string `json:"name"`
	Allowed bool   `json:"allowed"`
}

// QualityProfile defines which qualities are wanted, how they rank, size
// bounds, and the minimum custom-format score a candidate must reach.
type QualityProfile struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Cutoff string `json:"cutoff"`
	// Qualities from worst (index 0) to best.
	Qualities []ProfileQuality `json:"qualities"`
	Languages []string         `json:"languages"`
	// Size bounds in megabytes per minute of runtime; zero disables the bound.
	MinSizePerMinute float64 `json:"minSizePerMinute"`
	MaxSizePerMinute float64 `json:"maxSizePerMinute"`
	MinFormatScore   int     `json:"minFormatScore"`
	UpgradesAllowed  bool    `json:"upgradesAllowed"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate returns a non-nil error if the profile is missing required data.
func (p *QualityProfile) Validate() error {
	if p == nil {
		return errors.New("quality profile is nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("quality profile name is required")
	}
	if len(p.Qualities) == 0 {
		return errors.New("quality profile must allow at least one quality")
	}
	return nil
}

// QualityRank returns the rank of a quality name within the profile, or -1
// when the quality is not allowed. Higher is better. Revision bumps break
// ties between identical qualities.
func (p *QualityProfile) QualityRank(q Quality) int {
	for i, pq := range p.Qualities {
		if !pq.Allowed {
			continue
		}
		if strings.EqualFold(pq.Name, q.Name) {
			// scale so a PROPER/REAL of the same quality outranks the original
			rank := (i + 1) * 10
			rank += q.Revision.Version - 1
			if q.Revision.Real {
				rank++
			}
			return rank
		}
	}
	return -1
}

// LanguageWanted reports whether any of the release languages is listed in
// the profile. An empty profile language list accepts everything.
func (p *QualityProfile) LanguageWanted(languages []string) bool {
	if len(p.Languages) == 0 {
		return true
	}
	for _, want := range p.Languages {
		for _, have := range languages {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// CustomFormat is a named, weighted boolean expression matched against a
// release. The expression is compiled by the scoring engine; matched format
// weights sum into the release's custom-format score.
type CustomFormat struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Weight     int       `json:"weight"`
	Expression string    `json:"expression"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate returns a non-nil error if the format is missing required data.
func (f *CustomFormat) Validate() error {
	if f == nil {
		return errors.New("custom format is nil")
	}
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("custom format name is required")
	}
	if strings.TrimSpace(f.Expression) == "" {
		return errors.New("custom format expression is required")
	}
	return nil
}

// QualityProfileStore handles persistence for quality profiles.
type QualityProfileStore struct {
	db dbinterface.Querier
}

// NewQualityProfileStore returns a new QualityProfileStore backed by db.
func NewQualityProfileStore(db dbinterface.Querier) *QualityProfileStore {
	return &QualityProfileStore{db: db}
}

// Get returns the profile with the given id, or sql.ErrNoRows.
func (s *QualityProfileStore) Get(ctx context.Context, id int) (*QualityProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cutoff, qualities, languages, min_size_per_minute, max_size_per_minute, min_format_score, upgrades_allowed, created_at, updated_at
		FROM quality_profiles
		WHERE id = ?
	`, id)

	var p QualityProfile
	var qualitiesJSON, languagesJSON string
	if err := row.Scan(&p.ID, &p.Name, &p.Cutoff, &qualitiesJSON, &languagesJSON, &p.MinSizePerMinute, &p.MaxSizePerMinute, &p.MinFormatScore, &p.UpgradesAllowed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(qualitiesJSON), &p.Qualities); err != nil {
		return nil, fmt.Errorf("unmarshal qualities: %w", err)
	}
	if err := json.Unmarshal([]byte(languagesJSON), &p.Languages); err != nil {
		return nil, fmt.Errorf("unmarshal languages: %w", err)
	}
	return &p, nil
}

// List returns all profiles ordered by name.
func (s *QualityProfileStore) List(ctx context.Context) ([]*QualityProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cutoff, qualities, languages, min_size_per_minute, max_size_per_minute, min_format_score, upgrades_allowed, created_at, updated_at
		FROM quality_profiles
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*QualityProfile
	for rows.Next() {
		var p QualityProfile
		var qualitiesJSON, languagesJSON string
		if err := rows.Scan(&p.ID, &p.Name, &p.Cutoff, &qualitiesJSON, &languagesJSON, &p.MinSizePerMinute, &p.MaxSizePerMinute, &p.MinFormatScore, &p.UpgradesAllowed, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(qualitiesJSON), &p.Qualities); err != nil {
			return nil, fmt.Errorf("quality profile %d: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(languagesJSON), &p.Languages); err != nil {
			return nil, fmt.Errorf("quality profile %d: %w", p.ID, err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// Create inserts a new profile and returns it with the generated id.
func (s *QualityProfileStore) Create(ctx context.Context, p *QualityProfile) (*QualityProfile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	qualitiesJSON, err := json.Marshal(p.Qualities)
	if err != nil {
		return nil, fmt.Errorf("marshal qualities: %w", err)
	}
	languages := p.Languages
	if languages == nil {
		languages = []string{}
	}
	languagesJSON, err := json.Marshal(languages)
	if err != nil {
		return nil, fmt.Errorf("marshal languages: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_profiles (name, cutoff, qualities, languages, min_size_per_minute, max_size_per_minute, min_format_score, upgrades_allowed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, strings.TrimSpace(p.Name), p.Cutoff, string(qualitiesJSON), string(languagesJSON),
		p.MinSizePerMinute, p.MaxSizePerMinute, p.MinFormatScore, p.UpgradesAllowed)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

// CustomFormatStore handles persistence for custom formats.
type CustomFormatStore struct {
	db dbinterface.Querier
}

// NewCustomFormatStore returns a new CustomFormatStore backed by db.
func NewCustomFormatStore(db dbinterface.Querier) *CustomFormatStore {
	return &CustomFormatStore{db: db}
}

// List returns all custom formats ordered by name.
func (s *CustomFormatStore) List(ctx context.Context) ([]*CustomFormat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, weight, expression, created_at, updated_at
		FROM custom_formats
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var formats []*CustomFormat
	for rows.Next() {
		var f CustomFormat
		if err := rows.Scan(&f.ID, &f.Name, &f.Weight, &f.Expression, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		formats = append(formats, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return formats, nil
}

// Create inserts a new custom format and returns it with the generated id.
func (s *CustomFormatStore) Create(ctx context.Context, f *CustomFormat) (*CustomFormat, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_formats (name, weight, expression)
		VALUES (?, ?, ?)
	`, strings.TrimSpace(f.Name), f.Weight, strings.TrimSpace(f.Expression))
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, weight, expression, created_at, updated_at
		FROM custom_formats
		WHERE id = ?
	`, id)

	var created CustomFormat
	if err := row.Scan(&created.ID, &created.Name, &created.Weight, &created.Expression, &created.CreatedAt, &created.UpdatedAt); err != nil {
		return nil, err
	}
	return &created, nil
}
