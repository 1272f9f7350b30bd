// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/dbinterface"
)

// HistoryEventType is the kind of outcome recorded in the ledger.
type HistoryEventType string

const (
	HistoryEventGrabbed        HistoryEventType = "grabbed"
	HistoryEventDownloadFailed HistoryEventType = "downloadFailed"
	HistoryEventImported       HistoryEventType = "imported"
)

// HistoryEvent is one immutable ledger record. Events are append-only and are
// never mutated after the fact; a downloadFailed event is linked to its
// originating grab by LinkedEventID.
type HistoryEvent struct {
	ID            int              `json:"id"`
	EventType     HistoryEventType `json:"eventType"`
	SourceTitle   string           `json:"sourceTitle"`
	GUID          string           `json:"guid,omitempty"`
	SeriesID      int              `json:"seriesId"`
	IndexerID     int              `json:"indexerId"`
	Protocol      Protocol         `json:"protocol"`
	InfoHash      string           `json:"infoHash,omitempty"`
	ClientJobID   string           `json:"clientJobId,omitempty"`
	Detail        string           `json:"detail,omitempty"`
	LinkedEventID int              `json:"linkedEventId,omitempty"`
	Date          time.Time        `json:"date"`
}

// HistoryFilter narrows ledger queries.
type HistoryFilter struct {
	EventType   HistoryEventType
	SeriesID    int
	SourceTitle string
}

// HistoryPage is one page of ledger records, newest first.
type HistoryPage struct {
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	TotalRecords int             `json:"totalRecords"`
	Records      []*HistoryEvent `json:"records"`
}

// HistoryStore persists the append-only grab/fail/import ledger.
type HistoryStore struct {
	db dbinterface.Querier
}

// NewHistoryStore returns a HistoryStore backed by db.
func NewHistoryStore(db dbinterface.Querier) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append writes one event and returns it with its generated id. When the
// event is a downloadFailed it is linked to the oldest grabbed event with the
// same source title that has no failure linked to it yet.
func (s *HistoryStore) Append(ctx context.Context, event *HistoryEvent) (*HistoryEvent, error) {
	if event == nil {
		return nil, errors.New("event is nil")
	}
	if event.EventType == "" {
		return nil, errors.New("event type is required")
	}
	sourceTitle := strings.TrimSpace(event.SourceTitle)
	if sourceTitle == "" {
		return nil, errors.New("source title is required")
	}

	linkedID := 0
	if event.EventType == HistoryEventDownloadFailed {
		id, err := s.oldestUnmatchedGrab(ctx, sourceTitle)
		if err != nil {
			return nil, fmt.Errorf("correlate failed download: %w", err)
		}
		linkedID = id
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (event_type, source_title, guid, series_id, indexer_id, protocol, infohash, client_job_id, detail, linked_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(event.EventType), sourceTitle, event.GUID, event.SeriesID, event.IndexerID,
		string(event.Protocol), strings.ToLower(strings.TrimSpace(event.InfoHash)),
		event.ClientJobID, event.Detail, linkedID)
	if err != nil {
		return nil, fmt.Errorf("append history event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

// Get returns one event by id, or sql.ErrNoRows.
func (s *HistoryStore) Get(ctx context.Context, id int) (*HistoryEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, source_title, guid, series_id, indexer_id, protocol, infohash, client_job_id, detail, linked_event_id, date
		FROM history
		WHERE id = ?
	`, id)
	return scanHistoryEvent(row)
}

// FindBySourceTitle returns all events for a source title, oldest first.
func (s *HistoryStore) FindBySourceTitle(ctx context.Context, sourceTitle string) ([]*HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, source_title, guid, series_id, indexer_id, protocol, infohash, client_job_id, detail, linked_event_id, date
		FROM history
		WHERE source_title = ? COLLATE NOCASE
		ORDER BY id ASC
	`, strings.TrimSpace(sourceTitle))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistoryEvents(rows)
}

// FindByGUID returns all events recorded for a release guid, oldest first.
func (s *HistoryStore) FindByGUID(ctx context.Context, guid string) ([]*HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, source_title, guid, series_id, indexer_id, protocol, infohash, client_job_id, detail, linked_event_id, date
		FROM history
		WHERE guid = ?
		ORDER BY id ASC
	`, guid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistoryEvents(rows)
}

// CountFailures counts downloadFailed events recorded for a source title.
// Used by the repeated-failure specification.
func (s *HistoryStore) CountFailures(ctx context.Context, sourceTitle string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM history
		WHERE event_type = ? AND source_title = ? COLLATE NOCASE
	`, string(HistoryEventDownloadFailed), strings.TrimSpace(sourceTitle)).Scan(&count)
	return count, err
}

// List returns one page of ledger records, newest first.
func (s *HistoryStore) List(ctx context.Context, filter HistoryFilter, page, pageSize int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 250 {
		pageSize = 20
	}

	var clauses []string
	var args []any
	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if filter.SeriesID > 0 {
		clauses = append(clauses, "series_id = ?")
		args = append(args, filter.SeriesID)
	}
	if filter.SourceTitle != "" {
		clauses = append(clauses, "source_title = ? COLLATE NOCASE")
		args = append(args, strings.TrimSpace(filter.SourceTitle))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := `
		SELECT id, event_type, source_title, guid, series_id, indexer_id, protocol, infohash, client_job_id, detail, linked_event_id, date
		FROM history` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := collectHistoryEvents(rows)
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		Page:         page,
		PageSize:     pageSize,
		TotalRecords: total,
		Records:      records,
	}, nil
}

// oldestUnmatchedGrab finds the oldest grabbed event with the same source
// title that no downloadFailed event is linked to yet. Returns 0 when there
// is none.
func (s *HistoryStore) oldestUnmatchedGrab(ctx context.Context, sourceTitle string) (int, error) {
	var id int
	err := s.db.QueryRowContext(ctx, `
		SELECT g.id
		FROM history g
		WHERE g.event_type = ?
		  AND g.source_title = ? COLLATE NOCASE
		  AND NOT EXISTS (
			SELECT 1 FROM history f
			WHERE f.event_type = ? AND f.linked_event_id = g.id
		  )
		ORDER BY g.id ASC
		LIMIT 1
	`, string(HistoryEventGrabbed), sourceTitle, string(HistoryEventDownloadFailed)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func scanHistoryEvent(row *sql.Row) (*HistoryEvent, error) {
	var e HistoryEvent
	var eventType, protocol string
	if err := row.Scan(&e.ID, &eventType, &e.SourceTitle, &e.GUID, &e.SeriesID, &e.IndexerID, &protocol, &e.InfoHash, &e.ClientJobID, &e.Detail, &e.LinkedEventID, &e.Date); err != nil {
		return nil, err
	}
	e.EventType = HistoryEventType(eventType)
	e.Protocol = Protocol(protocol)
	return &e, nil
}

func collectHistoryEvents(rows *sql.Rows) ([]*HistoryEvent, error) {
	var events []*HistoryEvent
	for rows.Next() {
		var e HistoryEvent
		var eventType, protocol string
		if err := rows.Scan(&e.ID, &eventType, &e.SourceTitle, &e.GUID, &e.SeriesID, &e.IndexerID, &protocol, &e.InfoHash, &e.ClientJobID, &e.Detail, &e.LinkedEventID, &e.Date); err != nil {
			return nil, err
		}
		e.EventType = HistoryEventType(eventType)
		e.Protocol = Protocol(protocol)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
