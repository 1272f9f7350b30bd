// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"fmt"
	"sync"

	"github.com/fetcharr/fetcharr/internal/decision"
	"github.com/fetcharr/fetcharr/internal/models"
)

// torznabSource binds one configured indexer to its Torznab endpoint.
type torznabSource struct {
	indexer *models.Indexer
	client  *TorznabClient
}

func (s *torznabSource) Details() *models.Indexer {
	return s.indexer
}

func (s *torznabSource) Search(ctx context.Context, query *decision.Query) ([]models.Release, error) {
	items, err := s.client.Search(ctx, query.Text, query.Season, query.Episode)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.indexer.Name, err)
	}

	releases := make([]models.Release, 0, len(items))
	for _, item := range items {
		releases = append(releases, convertItem(item, s.indexer))
	}
	return releases, nil
}

// Provider yields a source per enabled indexer, reusing HTTP clients between
// searches. Client reuse is keyed on the indexer id and invalidated when the
// indexer's connection settings change.
type Provider struct {
	store *models.IndexerStore

	mu      sync.Mutex
	clients map[int]*cachedClient
}

type cachedClient struct {
	client  *TorznabClient
	baseURL string
	apiKey  string
}

// NewProvider returns a Provider over the indexer store.
func NewProvider(store *models.IndexerStore) *Provider {
	return &Provider{
		store:   store,
		clients: make(map[int]*cachedClient),
	}
}

// Sources returns one source per enabled indexer.
func (p *Provider) Sources(ctx context.Context) ([]decision.Source, error) {
	indexers, err := p.store.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled indexers: %w", err)
	}

	sources := make([]decision.Source, 0, len(indexers))
	for _, indexer := range indexers {
		sources = append(sources, &torznabSource{
			indexer: indexer,
			client:  p.clientFor(indexer),
		})
	}
	return sources, nil
}

func (p *Provider) clientFor(indexer *models.Indexer) *TorznabClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, ok := p.clients[indexer.ID]
	if ok && cached.baseURL == indexer.BaseURL && cached.apiKey == indexer.APIKey {
		return cached.client
	}

	client := NewTorznabClient(indexer.BaseURL, indexer.APIKey, indexer.Timeout())
	p.clients[indexer.ID] = &cachedClient{
		client:  client,
		baseURL: indexer.BaseURL,
		apiKey:  indexer.APIKey,
	}
	return client
}
