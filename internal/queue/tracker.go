// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue reconciles tracked downloads against the download client and
// turns terminal states into ledger events.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/grab"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

const defaultInterval = time.Minute

// Options tunes tracker behavior.
type Options struct {
	// Interval between reconciliation passes.
	Interval time.Duration
	// AutoBlocklistFailures blocks the release identity when its download
	// fails, so the next search skips it.
	AutoBlocklistFailures bool
	// Metrics counts reconciliation passes when set.
	Metrics *metrics.Manager
}

// Tracker polls the download client for every queue item and reconciles
// terminal states: failures become downloadFailed ledger events (optionally
// blocklisting the identity), completions become imported events that mark
// their episodes as having a file, and jobs the client no longer knows are
// dropped. Distinct items reconcile concurrently; the same item never runs
// twice at once.
type Tracker struct {
	client    grab.DownloadClient
	queue     *models.QueueStore
	history   *models.HistoryStore
	blocklist *models.BlocklistStore
	series    *models.SeriesStore
	opts      Options

	mu     sync.Mutex
	active map[int]struct{}
}

// NewTracker wires the tracker with its collaborators.
func NewTracker(client grab.DownloadClient, queue *models.QueueStore, history *models.HistoryStore, blocklist *models.BlocklistStore, series *models.SeriesStore, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	return &Tracker{
		client:    client,
		queue:     queue,
		history:   history,
		blocklist: blocklist,
		series:    series,
		opts:      opts,
		active:    make(map[int]struct{}),
	}
}

// Run reconciles on a fixed interval until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", t.opts.Interval).Msg("Queue tracker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Queue tracker stopped")
			return
		case <-ticker.C:
			if err := t.ReconcileNow(ctx); err != nil {
				log.Error().Err(err).Msg("Queue reconciliation pass failed")
			}
		}
	}
}

// ReconcileNow runs one full pass over the queue. Items already being
// reconciled by another pass are skipped; they will be picked up next time.
func (t *Tracker) ReconcileNow(ctx context.Context) error {
	items, err := t.queue.List(ctx)
	if err != nil {
		t.recordPass("error")
		return err
	}

	var wg sync.WaitGroup
	for _, item := range items {
		if !t.acquire(item.ID) {
			continue
		}

		wg.Add(1)
		go func(item *models.QueueItem) {
			defer wg.Done()
			defer t.release(item.ID)

			if err := t.reconcileItem(ctx, item); err != nil {
				log.Warn().
					Err(err).
					Int("queueId", item.ID).
					Str("clientJobId", item.ClientJobID).
					Msg("Failed to reconcile queue item")
			}
		}(item)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		t.recordPass("cancelled")
		return err
	}
	t.recordPass("ok")
	return nil
}

func (t *Tracker) recordPass(result string) {
	if t.opts.Metrics != nil {
		t.opts.Metrics.RecordReconcile(result)
	}
}

func (t *Tracker) reconcileItem(ctx context.Context, item *models.QueueItem) error {
	state, err := t.client.PollStatus(ctx, item.ClientJobID)
	if err != nil {
		// leave the item as-is; transient poll errors resolve themselves
		return err
	}

	switch state {
	case models.QueueStateFailed:
		return t.handleFailure(ctx, item)
	case models.QueueStateCompleted:
		return t.handleCompletion(ctx, item)
	case models.QueueStateRemoved:
		log.Info().
			Str("sourceTitle", item.SourceTitle).
			Msg("Download removed from client, dropping queue item")
		return t.queue.Delete(ctx, item.ID)
	default:
		if state != item.State {
			return t.queue.UpdateState(ctx, item.ID, state)
		}
		return nil
	}
}

func (t *Tracker) handleFailure(ctx context.Context, item *models.QueueItem) error {
	_, err := t.history.Append(ctx, &models.HistoryEvent{
		EventType:   models.HistoryEventDownloadFailed,
		SourceTitle: item.SourceTitle,
		GUID:        item.GUID,
		SeriesID:    item.SeriesID,
		IndexerID:   item.IndexerID,
		Protocol:    item.Protocol,
		InfoHash:    item.InfoHash,
		ClientJobID: item.ClientJobID,
		Detail:      "download client reported failure",
	})
	if err != nil {
		return err
	}

	if t.opts.AutoBlocklistFailures {
		err := t.blocklist.Insert(ctx, &models.BlocklistEntry{
			IdentityKey: item.BlocklistIdentity(),
			SeriesID:    item.SeriesID,
			SourceTitle: item.SourceTitle,
			Protocol:    item.Protocol,
			IndexerID:   item.IndexerID,
			InfoHash:    item.InfoHash,
			Message:     "download failed",
		})
		if err != nil {
			return err
		}
	}

	log.Warn().
		Str("sourceTitle", item.SourceTitle).
		Bool("blocklisted", t.opts.AutoBlocklistFailures).
		Msg("Download failed")

	return t.queue.Delete(ctx, item.ID)
}

func (t *Tracker) handleCompletion(ctx context.Context, item *models.QueueItem) error {
	_, err := t.history.Append(ctx, &models.HistoryEvent{
		EventType:   models.HistoryEventImported,
		SourceTitle: item.SourceTitle,
		GUID:        item.GUID,
		SeriesID:    item.SeriesID,
		IndexerID:   item.IndexerID,
		Protocol:    item.Protocol,
		InfoHash:    item.InfoHash,
		ClientJobID: item.ClientJobID,
	})
	if err != nil {
		return err
	}

	for _, episodeID := range item.EpisodeIDs {
		if err := t.series.SetEpisodeFile(ctx, episodeID, item.Quality, 0, item.Size); err != nil {
			log.Warn().
				Err(err).
				Int("episodeId", episodeID).
				Msg("Could not mark episode file after import")
		}
	}

	log.Info().
		Str("sourceTitle", item.SourceTitle).
		Int("episodes", len(item.EpisodeIDs)).
		Msg("Download completed and imported")

	return t.queue.Delete(ctx, item.ID)
}

func (t *Tracker) acquire(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.active[id]; busy {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *Tracker) release(id int) {
	t.mu.Lock()
	delete(t.active, id)
	t.mu.Unlock()
}
