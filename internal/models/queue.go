// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/dbinterface"
)

// QueueState mirrors the download client's reported job state.
type QueueState string

const (
	QueueStateDownloading QueueState = "downloading"
	QueueStateCompleted   QueueState = "completed"
	QueueStateFailed      QueueState = "failed"
	QueueStateRemoved     QueueState = "removed"
)

// QueueItem is one in-flight download being tracked against the client.
type QueueItem struct {
	ID          int        `json:"id"`
	ClientJobID string     `json:"clientJobId"`
	GUID        string     `json:"guid"`
	SourceTitle string     `json:"sourceTitle"`
	SeriesID    int        `json:"seriesId"`
	EpisodeIDs  []int      `json:"episodeIds,omitempty"`
	IndexerID   int        `json:"indexerId"`
	Protocol    Protocol   `json:"protocol"`
	InfoHash    string     `json:"infoHash,omitempty"`
	Size        int64      `json:"size"`
	Quality     Quality    `json:"quality"`
	State       QueueState `json:"state"`
	AddedAt     time.Time  `json:"addedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// QueueStore persists in-flight downloads between reconciliation passes.
type QueueStore struct {
	db dbinterface.Querier
}

// NewQueueStore returns a QueueStore backed by db.
func NewQueueStore(db dbinterface.Querier) *QueueStore {
	return &QueueStore{db: db}
}

// Insert records a newly dispatched download.
func (s *QueueStore) Insert(ctx context.Context, item *QueueItem) (*QueueItem, error) {
	if item == nil {
		return nil, errors.New("item is nil")
	}
	if strings.TrimSpace(item.ClientJobID) == "" {
		return nil, errors.New("client job id is required")
	}

	state := item.State
	if state == "" {
		state = QueueStateDownloading
	}

	quality, err := marshalQuality(item.Quality)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (client_job_id, guid, source_title, series_id, episode_ids, indexer_id, protocol, infohash, size, quality, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ClientJobID, item.GUID, item.SourceTitle, item.SeriesID, joinInts(item.EpisodeIDs),
		item.IndexerID, string(item.Protocol), strings.ToLower(strings.TrimSpace(item.InfoHash)), item.Size, quality, string(state))
	if err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

// Get returns one queue item by id, or sql.ErrNoRows.
func (s *QueueStore) Get(ctx context.Context, id int) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_job_id, guid, source_title, series_id, episode_ids, indexer_id, protocol, infohash, size, quality, state, added_at, updated_at
		FROM queue
		WHERE id = ?
	`, id)
	return scanQueueItem(row.Scan)
}

// List returns all tracked items, oldest first.
func (s *QueueStore) List(ctx context.Context) ([]*QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_job_id, guid, source_title, series_id, episode_ids, indexer_id, protocol, infohash, size, quality, state, added_at, updated_at
		FROM queue
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ContainsEpisode reports whether any tracked item covers the episode id.
// Drives the wanted/missing queue-exclusion filter.
func (s *QueueStore) ContainsEpisode(ctx context.Context, episodeID int) (bool, error) {
	items, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		for _, id := range item.EpisodeIDs {
			if id == episodeID {
				return true, nil
			}
		}
	}
	return false, nil
}

// UpdateState transitions one item to the given state.
func (s *QueueStore) UpdateState(ctx context.Context, id int, state QueueState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(state), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete destroys one item. History for the item is never touched.
func (s *QueueStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BlocklistIdentity computes the blocklist identity key for the item,
// matching what Release.BlocklistKey would have produced at grab time.
func (q *QueueItem) BlocklistIdentity() string {
	if q.Protocol == ProtocolTorrent && q.InfoHash != "" {
		return "torrent:" + strings.ToLower(strings.TrimSpace(q.InfoHash))
	}
	return strings.Join([]string{string(q.Protocol), strconv.Itoa(q.IndexerID), normalizeSourceTitle(q.SourceTitle)}, ":")
}

func scanQueueItem(scan func(dest ...any) error) (*QueueItem, error) {
	var item QueueItem
	var protocol, state, episodeIDs, quality string
	if err := scan(&item.ID, &item.ClientJobID, &item.GUID, &item.SourceTitle, &item.SeriesID, &episodeIDs, &item.IndexerID, &protocol, &item.InfoHash, &item.Size, &quality, &state, &item.AddedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Protocol = Protocol(protocol)
	item.State = QueueState(state)
	item.EpisodeIDs = splitInts(episodeIDs)
	if quality != "" {
		if err := unmarshalQuality(quality, &item.Quality); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitInts(value string) []int {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, v)
		}
	}
	return out
}
