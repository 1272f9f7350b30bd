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

// BlocklistEntry is a permanently rejected release identity. Entries are only
// ever removed by explicit user action.
type BlocklistEntry struct {
	ID          int       `json:"id"`
	IdentityKey string    `json:"-"`
	SeriesID    int       `json:"seriesId"`
	SourceTitle string    `json:"sourceTitle"`
	Protocol    Protocol  `json:"protocol"`
	IndexerID   int       `json:"indexerId"`
	InfoHash    string    `json:"infoHash,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BlocklistPage is one page of blocklist entries.
type BlocklistPage struct {
	Page         int               `json:"page"`
	PageSize     int               `json:"pageSize"`
	TotalRecords int               `json:"totalRecords"`
	Records      []*BlocklistEntry `json:"records"`
}

// BlocklistFilter narrows blocklist queries.
type BlocklistFilter struct {
	SeriesID int
	Protocol Protocol
}

// BlocklistSort controls page ordering.
type BlocklistSort struct {
	Key        string // "date", "sourceTitle" or "indexer"
	Descending bool
}

// BlocklistStore persists blocklist entries keyed by release identity.
type BlocklistStore struct {
	db dbinterface.Querier
}

// NewBlocklistStore returns a BlocklistStore backed by db.
func NewBlocklistStore(db dbinterface.Querier) *BlocklistStore {
	return &BlocklistStore{db: db}
}

// Insert adds an entry for the release identity. Inserting an identity that
// is already blocked is a no-op, which makes concurrent blockers safe without
// broader locking.
func (s *BlocklistStore) Insert(ctx context.Context, entry *BlocklistEntry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	key := strings.TrimSpace(entry.IdentityKey)
	if key == "" {
		return errors.New("identity key is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocklist (identity_key, series_id, source_title, protocol, indexer_id, infohash, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO NOTHING
	`, key, entry.SeriesID, entry.SourceTitle, string(entry.Protocol), entry.IndexerID,
		strings.ToLower(strings.TrimSpace(entry.InfoHash)), strings.TrimSpace(entry.Message))
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil
		}
		return fmt.Errorf("insert blocklist entry: %w", err)
	}

	return nil
}

// Contains reports whether the identity key is blocked.
func (s *BlocklistStore) Contains(ctx context.Context, identityKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM blocklist WHERE identity_key = ? LIMIT 1
	`, identityKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns one page of entries matching the filter.
func (s *BlocklistStore) List(ctx context.Context, filter BlocklistFilter, sort BlocklistSort, page, pageSize int) (*BlocklistPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 250 {
		pageSize = 20
	}

	where, args := blocklistWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocklist`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := `
		SELECT id, identity_key, series_id, source_title, protocol, indexer_id, infohash, message, created_at
		FROM blocklist` + where + ` ORDER BY ` + blocklistOrder(sort) + ` LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*BlocklistEntry, 0, pageSize)
	for rows.Next() {
		var e BlocklistEntry
		var protocol string
		if err := rows.Scan(&e.ID, &e.IdentityKey, &e.SeriesID, &e.SourceTitle, &protocol, &e.IndexerID, &e.InfoHash, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Protocol = Protocol(protocol)
		records = append(records, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &BlocklistPage{
		Page:         page,
		PageSize:     pageSize,
		TotalRecords: total,
		Records:      records,
	}, nil
}

// Delete removes one entry by id. Returns sql.ErrNoRows when nothing matched.
func (s *BlocklistStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocklist WHERE id = ?`, id)
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

// DeleteBulk removes the given entries, ignoring ids that no longer exist.
func (s *BlocklistStore) DeleteBulk(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM blocklist WHERE id IN (%s)`, strings.Join(placeholders, ", ")), args...)
	return err
}

func blocklistWhere(filter BlocklistFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.SeriesID > 0 {
		clauses = append(clauses, "series_id = ?")
		args = append(args, filter.SeriesID)
	}
	if filter.Protocol != "" {
		clauses = append(clauses, "protocol = ?")
		args = append(args, string(filter.Protocol))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func blocklistOrder(sort BlocklistSort) string {
	column := "created_at"
	switch sort.Key {
	case "sourceTitle":
		column = "source_title"
	case "indexer":
		column = "indexer_id"
	}
	direction := "ASC"
	if sort.Descending {
		direction = "DESC"
	}
	return column + " " + direction + ", id " + direction
}
