// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/fetcharr/fetcharr/internal/grab"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

// pollClient maps client job ids to the state the download client reports.
type pollClient struct {
	states map[string]models.QueueState
	err    error
}

func (c *pollClient) Submit(context.Context, *models.Release, *grab.SeedCriteria) (*grab.DispatchResult, error) {
	return nil, errors.New("not used")
}

func (c *pollClient) PollStatus(_ context.Context, clientJobID string) (models.QueueState, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.states[clientJobID], nil
}

type trackerFixture struct {
	queue     *models.QueueStore
	history   *models.HistoryStore
	blocklist *models.BlocklistStore
	series    *models.SeriesStore

	episodeID int
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &trackerFixture{
		queue:     models.NewQueueStore(db),
		history:   models.NewHistoryStore(db),
		blocklist: models.NewBlocklistStore(db),
		series:    models.NewSeriesStore(db),
	}

	ctx := context.Background()
	series, err := f.series.Create(ctx, &models.Series{Title: "Show", Monitored: true, QualityProfileID: 1})
	require.NoError(t, err)

	episode, err := f.series.CreateEpisode(ctx, &models.Episode{
		SeriesID:      series.ID,
		SeasonNumber:  1,
		EpisodeNumber: 1,
		Monitored:     true,
	})
	require.NoError(t, err)
	f.episodeID = episode.ID

	return f
}

func (f *trackerFixture) tracker(client grab.DownloadClient, opts Options) *Tracker {
	return NewTracker(client, f.queue, f.history, f.blocklist, f.series, opts)
}

func (f *trackerFixture) insertItem(t *testing.T, clientJobID string) *models.QueueItem {
	t.Helper()

	item, err := f.queue.Insert(context.Background(), &models.QueueItem{
		ClientJobID: clientJobID,
		GUID:        "guid-" + clientJobID,
		SourceTitle: "Show.S01E01.1080p.WEB-DL.x264-GRP",
		SeriesID:    1,
		EpisodeIDs:  []int{f.episodeID},
		IndexerID:   2,
		Protocol:    models.ProtocolTorrent,
		InfoHash:    "abcdef0123456789",
		Size:        2 << 30,
		Quality:     models.Quality{Name: "WEB-DL-1080p", Resolution: 1080, Source: "WEB-DL", Revision: models.QualityRevision{Version: 1}},
	})
	require.NoError(t, err)
	return item
}

func TestReconcileFailureWritesLedgerAndDropsItem(t *testing.T) {
	f := newTrackerFixture(t)
	item := f.insertItem(t, "job-1")
	ctx := context.Background()

	tracker := f.tracker(&pollClient{states: map[string]models.QueueState{"job-1": models.QueueStateFailed}}, Options{})
	require.NoError(t, tracker.ReconcileNow(ctx))

	page, err := f.history.List(ctx, models.HistoryFilter{EventType: models.HistoryEventDownloadFailed}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalRecords)
	assert.Equal(t, item.SourceTitle, page.Records[0].SourceTitle)

	_, err = f.queue.Get(ctx, item.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// blocklisting was not requested
	blocked, err := f.blocklist.Contains(ctx, item.BlocklistIdentity())
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestReconcileFailureAutoBlocklists(t *testing.T) {
	f := newTrackerFixture(t)
	item := f.insertItem(t, "job-1")
	ctx := context.Background()

	tracker := f.tracker(
		&pollClient{states: map[string]models.QueueState{"job-1": models.QueueStateFailed}},
		Options{AutoBlocklistFailures: true},
	)
	require.NoError(t, tracker.ReconcileNow(ctx))

	blocked, err := f.blocklist.Contains(ctx, item.BlocklistIdentity())
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestReconcileCompletionImportsAndMarksEpisodes(t *testing.T) {
	f := newTrackerFixture(t)
	item := f.insertItem(t, "job-1")
	ctx := context.Background()

	tracker := f.tracker(&pollClient{states: map[string]models.QueueState{"job-1": models.QueueStateCompleted}}, Options{})
	require.NoError(t, tracker.ReconcileNow(ctx))

	page, err := f.history.List(ctx, models.HistoryFilter{EventType: models.HistoryEventImported}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalRecords)

	episode, err := f.series.GetEpisode(ctx, f.episodeID)
	require.NoError(t, err)
	assert.True(t, episode.HasFile)
	assert.Equal(t, "WEB-DL-1080p", episode.FileQuality.Name)
	assert.Equal(t, item.Size, episode.FileSize)

	_, err = f.queue.Get(ctx, item.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReconcileRemovedDropsItemSilently(t *testing.T) {
	f := newTrackerFixture(t)
	item := f.insertItem(t, "job-1")
	ctx := context.Background()

	tracker := f.tracker(&pollClient{states: map[string]models.QueueState{"job-1": models.QueueStateRemoved}}, Options{})
	require.NoError(t, tracker.ReconcileNow(ctx))

	_, err := f.queue.Get(ctx, item.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	page, err := f.history.List(ctx, models.HistoryFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.TotalRecords)
}

func TestReconcileUpdatesInFlightState(t *testing.T) {
	f := newTrackerFixture(t)
	item := f.insertItem(t, "job-1")
	ctx := context.Background()

	tracker := f.tracker(&pollClient{states: map[string]models.QueueState{"job-1": models.QueueStateCompleted}}, Options{})

	// downloading stays downloading without a write
	downloading := f.tracker(&pollClient{states: map[string]models.QueueState{"job-1": models.QueueStateDownloading}}, Options{})
	require.NoError(t, downloading.ReconcileNow(ctx))

	got, err := f.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStateDownloading, got.State)

	require.NoError(t, tracker.ReconcileNow(ctx))
	_, err = f.queue.Get(ctx, item.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReconcilePollErrorLeavesItemAlone(t *testing.T) {
	f := newTrackerFixture(t)
	item := f.insertItem(t, "job-1")
	ctx := context.Background()

	tracker := f.tracker(&pollClient{err: errors.New("client unreachable")}, Options{})
	require.NoError(t, tracker.ReconcileNow(ctx))

	got, err := f.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStateDownloading, got.State)
}

func TestReconcileRecordsPassOutcome(t *testing.T) {
	f := newTrackerFixture(t)
	f.insertItem(t, "job-1")

	manager := metrics.NewManager()
	tracker := f.tracker(
		&pollClient{states: map[string]models.QueueState{"job-1": models.QueueStateDownloading}},
		Options{Metrics: manager},
	)
	require.NoError(t, tracker.ReconcileNow(context.Background()))

	expected := `
# HELP fetcharr_queue_reconciliations_total Total number of queue reconciliation passes by outcome
# TYPE fetcharr_queue_reconciliations_total counter
fetcharr_queue_reconciliations_total{result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(
		manager.GetRegistry(),
		strings.NewReader(expected),
		"fetcharr_queue_reconciliations_total",
	))
}

func TestReconcileCancelledContext(t *testing.T) {
	f := newTrackerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tracker := f.tracker(&pollClient{}, Options{})
	err := tracker.ReconcileNow(ctx)
	assert.Error(t, err)
}
