// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/dbinterface"
)

// Series is the minimal wanted-item model: enough to drive the missing API,
// the mapping-confidence gate and profile selection.
type Series struct {
	ID               int       `json:"id"`
	Title            string    `json:"title"`
	TvdbID           int       `json:"tvdbId"`
	Monitored        bool      `json:"monitored"`
	QualityProfileID int       `json:"qualityProfileId"`
	RuntimeMinutes   int       `json:"runtimeMinutes"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Episode is one episode of a series, tracked for file presence.
type Episode struct {
	ID            int       `json:"id"`
	SeriesID      int       `json:"seriesId"`
	SeasonNumber  int       `json:"seasonNumber"`
	EpisodeNumber int       `json:"episodeNumber"`
	Title         string    `json:"title"`
	Monitored     bool      `json:"monitored"`
	HasFile       bool      `json:"hasFile"`
	AirDate       time.Time `json:"airDate"`

	// Current file quality/score when HasFile, for upgrade comparisons.
	FileQuality     Quality `json:"fileQuality,omitzero"`
	FileFormatScore int     `json:"fileFormatScore"`
	FileSize        int64   `json:"fileSize"`
}

// MissingFilter narrows missing-episode queries.
type MissingFilter struct {
	SeriesID      int
	MonitoredOnly bool
	// ExcludeInQueue drops episodes already covered by a queue item.
	ExcludeInQueue bool
}

// MissingPage is one page of episodes without a file.
type MissingPage struct {
	Page         int        `json:"page"`
	PageSize     int        `json:"pageSize"`
	TotalRecords int        `json:"totalRecords"`
	Records      []*Episode `json:"records"`
}

// SeriesStore persists series and episodes.
type SeriesStore struct {
	db dbinterface.Querier
}

// NewSeriesStore returns a SeriesStore backed by db.
func NewSeriesStore(db dbinterface.Querier) *SeriesStore {
	return &SeriesStore{db: db}
}

// Get returns one series by id, or sql.ErrNoRows.
func (s *SeriesStore) Get(ctx context.Context, id int) (*Series, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, tvdb_id, monitored, quality_profile_id, runtime_minutes, created_at
		FROM series
		WHERE id = ?
	`, id)

	var series Series
	if err := row.Scan(&series.ID, &series.Title, &series.TvdbID, &series.Monitored, &series.QualityProfileID, &series.RuntimeMinutes, &series.CreatedAt); err != nil {
		return nil, err
	}
	return &series, nil
}

// FindByTitle returns the series whose title matches, case-insensitively,
// or nil when none does.
func (s *SeriesStore) FindByTitle(ctx context.Context, title string) (*Series, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, tvdb_id, monitored, quality_profile_id, runtime_minutes, created_at
		FROM series
		WHERE title = ? COLLATE NOCASE
	`, strings.TrimSpace(title))

	var series Series
	err := row.Scan(&series.ID, &series.Title, &series.TvdbID, &series.Monitored, &series.QualityProfileID, &series.RuntimeMinutes, &series.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &series, nil
}

// Create inserts a series and returns it with the generated id.
func (s *SeriesStore) Create(ctx context.Context, series *Series) (*Series, error) {
	if series == nil {
		return nil, errors.New("series is nil")
	}
	if strings.TrimSpace(series.Title) == "" {
		return nil, errors.New("series title is required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO series (title, tvdb_id, monitored, quality_profile_id, runtime_minutes)
		VALUES (?, ?, ?, ?, ?)
	`, strings.TrimSpace(series.Title), series.TvdbID, series.Monitored, series.QualityProfileID, series.RuntimeMinutes)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

// GetEpisode returns one episode by id, or sql.ErrNoRows.
func (s *SeriesStore) GetEpisode(ctx context.Context, id int) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, series_id, season_number, episode_number, title, monitored, has_file, air_date, file_quality, file_format_score, file_size
		FROM episodes
		WHERE id = ?
	`, id)
	return scanEpisode(row.Scan)
}

// FindEpisode resolves (series, season, episode) to an episode row, or nil.
func (s *SeriesStore) FindEpisode(ctx context.Context, seriesID, season, episode int) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, series_id, season_number, episode_number, title, monitored, has_file, air_date, file_quality, file_format_score, file_size
		FROM episodes
		WHERE series_id = ? AND season_number = ? AND episode_number = ?
	`, seriesID, season, episode)

	ep, err := scanEpisode(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// CreateEpisode inserts an episode and returns it with the generated id.
func (s *SeriesStore) CreateEpisode(ctx context.Context, ep *Episode) (*Episode, error) {
	if ep == nil {
		return nil, errors.New("episode is nil")
	}
	if ep.SeriesID <= 0 {
		return nil, errors.New("series id is required")
	}

	fileQuality, err := marshalQuality(ep.FileQuality)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (series_id, season_number, episode_number, title, monitored, has_file, air_date, file_quality, file_format_score, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ep.SeriesID, ep.SeasonNumber, ep.EpisodeNumber, ep.Title, ep.Monitored, ep.HasFile, ep.AirDate, fileQuality, ep.FileFormatScore, ep.FileSize)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetEpisode(ctx, int(id))
}

// SetEpisodeFile records the file now held for an episode.
func (s *SeriesStore) SetEpisodeFile(ctx context.Context, episodeID int, quality Quality, formatScore int, size int64) error {
	fileQuality, err := marshalQuality(quality)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE episodes
		SET has_file = 1, file_quality = ?, file_format_score = ?, file_size = ?
		WHERE id = ?
	`, fileQuality, formatScore, size, episodeID)
	return err
}

// ListMissing returns one page of episodes without a file.
func (s *SeriesStore) ListMissing(ctx context.Context, filter MissingFilter, page, pageSize int) (*MissingPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 250 {
		pageSize = 20
	}

	clauses := []string{"has_file = 0"}
	var args []any
	if filter.SeriesID > 0 {
		clauses = append(clauses, "series_id = ?")
		args = append(args, filter.SeriesID)
	}
	if filter.MonitoredOnly {
		clauses = append(clauses, "monitored = 1")
	}
	if filter.ExcludeInQueue {
		// queue.episode_ids is a comma-joined id list
		clauses = append(clauses, `NOT EXISTS (
			SELECT 1 FROM queue
			WHERE ',' || queue.episode_ids || ',' LIKE '%,' || CAST(episodes.id AS TEXT) || ',%'
		)`)
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := `
		SELECT id, series_id, season_number, episode_number, title, monitored, has_file, air_date, file_quality, file_format_score, file_size
		FROM episodes` + where + ` ORDER BY air_date DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*Episode, 0, pageSize)
	for rows.Next() {
		ep, err := scanEpisode(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &MissingPage{
		Page:         page,
		PageSize:     pageSize,
		TotalRecords: total,
		Records:      records,
	}, nil
}

func scanEpisode(scan func(dest ...any) error) (*Episode, error) {
	var ep Episode
	var fileQuality string
	if err := scan(&ep.ID, &ep.SeriesID, &ep.SeasonNumber, &ep.EpisodeNumber, &ep.Title, &ep.Monitored, &ep.HasFile, &ep.AirDate, &fileQuality, &ep.FileFormatScore, &ep.FileSize); err != nil {
		return nil, err
	}
	if fileQuality != "" {
		if err := unmarshalQuality(fileQuality, &ep.FileQuality); err != nil {
			return nil, err
		}
	}
	return &ep, nil
}
