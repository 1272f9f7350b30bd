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

// Indexer is one configured candidate source.
type Indexer struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	BaseURL        string    `json:"baseUrl"`
	APIKey         string    `json:"-"`
	Protocol       Protocol  `json:"protocol"`
	Enabled        bool      `json:"enabled"`
	TimeoutSeconds int       `json:"timeoutSeconds"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Timeout returns the per-indexer query deadline.
func (i *Indexer) Timeout() time.Duration {
	if i.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// Validate returns a non-nil error if the indexer is missing required data.
func (i *Indexer) Validate() error {
	if i == nil {
		return errors.New("indexer is nil")
	}
	if strings.TrimSpace(i.Name) == "" {
		return errors.New("indexer name is required")
	}
	if strings.TrimSpace(i.BaseURL) == "" {
		return errors.New("indexer base url is required")
	}
	switch i.Protocol {
	case ProtocolUsenet, ProtocolTorrent:
	default:
		return errors.New("indexer protocol must be usenet or torrent")
	}
	return nil
}

// IndexerStore persists indexer configuration.
type IndexerStore struct {
	db dbinterface.Querier
}

// NewIndexerStore returns an IndexerStore backed by db.
func NewIndexerStore(db dbinterface.Querier) *IndexerStore {
	return &IndexerStore{db: db}
}

// Get returns one indexer by id, or sql.ErrNoRows.
func (s *IndexerStore) Get(ctx context.Context, id int) (*Indexer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_url, api_key, protocol, enabled, timeout_seconds, created_at, updated_at
		FROM indexers
		WHERE id = ?
	`, id)
	return scanIndexer(row.Scan)
}

// List returns all indexers ordered by name.
func (s *IndexerStore) List(ctx context.Context) ([]*Indexer, error) {
	return s.list(ctx, false)
}

// ListEnabled returns the indexers eligible for search fan-out.
func (s *IndexerStore) ListEnabled(ctx context.Context) ([]*Indexer, error) {
	return s.list(ctx, true)
}

func (s *IndexerStore) list(ctx context.Context, enabledOnly bool) ([]*Indexer, error) {
	query := `
		SELECT id, name, base_url, api_key, protocol, enabled, timeout_seconds, created_at, updated_at
		FROM indexers
	`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY name ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexers []*Indexer
	for rows.Next() {
		indexer, err := scanIndexer(rows.Scan)
		if err != nil {
			return nil, err
		}
		indexers = append(indexers, indexer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return indexers, nil
}

// Create inserts an indexer and returns it with the generated id.
func (s *IndexerStore) Create(ctx context.Context, indexer *Indexer) (*Indexer, error) {
	if err := indexer.Validate(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO indexers (name, base_url, api_key, protocol, enabled, timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
	`, strings.TrimSpace(indexer.Name), strings.TrimSpace(indexer.BaseURL), indexer.APIKey,
		string(indexer.Protocol), indexer.Enabled, indexer.TimeoutSeconds)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

// Update replaces the mutable fields of an indexer.
func (s *IndexerStore) Update(ctx context.Context, indexer *Indexer) (*Indexer, error) {
	if err := indexer.Validate(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE indexers
		SET name = ?, base_url = ?, api_key = ?, protocol = ?, enabled = ?, timeout_seconds = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, strings.TrimSpace(indexer.Name), strings.TrimSpace(indexer.BaseURL), indexer.APIKey,
		string(indexer.Protocol), indexer.Enabled, indexer.TimeoutSeconds, indexer.ID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return s.Get(ctx, indexer.ID)
}

// Delete removes one indexer by id.
func (s *IndexerStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexers WHERE id = ?`, id)
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

func scanIndexer(scan func(dest ...any) error) (*Indexer, error) {
	var indexer Indexer
	var protocol string
	if err := scan(&indexer.ID, &indexer.Name, &indexer.BaseURL, &indexer.APIKey, &protocol, &indexer.Enabled, &indexer.TimeoutSeconds, &indexer.CreatedAt, &indexer.UpdatedAt); err != nil {
		return nil, err
	}
	indexer.Protocol = Protocol(protocol)
	return &indexer, nil
}
