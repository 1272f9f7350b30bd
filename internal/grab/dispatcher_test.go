// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/fetcharr/fetcharr/internal/models"
)

// fakeClient returns its queued results in order, repeating the last one.
type fakeClient struct {
	results []*DispatchResult
	err     error

	calls       int
	lastRelease *models.Release
	lastSeed    *SeedCriteria
}

func (c *fakeClient) Submit(_ context.Context, release *models.Release, seed *SeedCriteria) (*DispatchResult, error) {
	c.calls++
	c.lastRelease = release
	c.lastSeed = seed
	if c.err != nil {
		return nil, c.err
	}
	idx := c.calls - 1
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	return c.results[idx], nil
}

func (c *fakeClient) PollStatus(context.Context, string) (models.QueueState, error) {
	return models.QueueStateDownloading, nil
}

func accepted(jobID string) *DispatchResult {
	return &DispatchResult{Status: DispatchAccepted, ClientJobID: jobID}
}

func transient(reason string) *DispatchResult {
	return &DispatchResult{Status: DispatchTransientFailure, Reason: reason}
}

type dispatcherFixture struct {
	history *models.HistoryStore
	queue   *models.QueueStore
	series  *models.SeriesStore

	seriesID  int
	episodeID int
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &dispatcherFixture{
		history: models.NewHistoryStore(db),
		queue:   models.NewQueueStore(db),
		series:  models.NewSeriesStore(db),
	}

	ctx := context.Background()
	series, err := f.series.Create(ctx, &models.Series{Title: "Show", Monitored: true, QualityProfileID: 1})
	require.NoError(t, err)
	f.seriesID = series.ID

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

func (f *dispatcherFixture) dispatcher(client DownloadClient, opts Options) *Dispatcher {
	return NewDispatcher(client, f.history, f.queue, f.series, opts)
}

func (f *dispatcherFixture) resolvedRelease() models.Release {
	return models.Release{
		GUID:           "guid-1",
		IndexerID:      1,
		Protocol:       models.ProtocolTorrent,
		Title:          "Show.S01E01.1080p.WEB-DL.x264-GRP",
		SourceTitle:    "Show.S01E01.1080p.WEB-DL.x264-GRP",
		InfoHash:       "abcdef0123456789",
		DownloadURL:    "https://indexer.example/dl/guid-1",
		Size:           2 << 30,
		Quality:        models.Quality{Name: "WEB-DL-1080p", Resolution: 1080, Source: "WEB-DL", Revision: models.QualityRevision{Version: 1}},
		SeriesID:       f.seriesID,
		MappedSeason:   1,
		MappedEpisodes: []int{1},
	}
}

func (f *dispatcherFixture) unresolvedRelease() models.Release {
	release := f.resolvedRelease()
	release.GUID = "guid-unresolved"
	release.SeriesID = 0
	release.MappedEpisodes = nil
	return release
}

func TestProposeReportsMappingConfidence(t *testing.T) {
	f := newDispatcherFixture(t)
	d := f.dispatcher(&fakeClient{results: []*DispatchResult{accepted("job")}}, Options{})

	proposal := d.Propose(f.resolvedRelease())
	assert.True(t, proposal.DownloadAllowed)
	assert.False(t, proposal.ExpiresAt.IsZero())

	proposal = d.Propose(f.unresolvedRelease())
	assert.False(t, proposal.DownloadAllowed)
}

func TestConfirmWithoutProposal(t *testing.T) {
	f := newDispatcherFixture(t)
	d := f.dispatcher(&fakeClient{results: []*DispatchResult{accepted("job")}}, Options{})

	_, err := d.Confirm(context.Background(), &Request{GUID: "never-proposed"})
	assert.ErrorIs(t, err, ErrNoProposal)

	_, err = d.Confirm(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoProposal)
}

func TestConfirmExpiredProposal(t *testing.T) {
	f := newDispatcherFixture(t)
	d := f.dispatcher(&fakeClient{results: []*DispatchResult{accepted("job")}}, Options{ProposalTTL: time.Millisecond})

	release := f.resolvedRelease()
	d.Propose(release)
	time.Sleep(5 * time.Millisecond)

	_, err := d.Confirm(context.Background(), &Request{GUID: release.GUID})
	assert.ErrorIs(t, err, ErrNoProposal)
}

func TestConfirmAcceptedRecordsGrabAndConsumesProposal(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{accepted("job-1")}}
	d := f.dispatcher(client, Options{})
	ctx := context.Background()

	release := f.resolvedRelease()
	d.Propose(release)

	result, err := d.Confirm(ctx, &Request{GUID: release.GUID})
	require.NoError(t, err)
	assert.Equal(t, DispatchAccepted, result.Status)

	page, err := f.history.List(ctx, models.HistoryFilter{EventType: models.HistoryEventGrabbed}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalRecords)
	assert.Equal(t, release.SourceTitle, page.Records[0].SourceTitle)
	assert.Equal(t, "job-1", page.Records[0].ClientJobID)

	items, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "job-1", items[0].ClientJobID)
	assert.Equal(t, []int{f.episodeID}, items[0].EpisodeIDs)
	assert.Equal(t, "WEB-DL-1080p", items[0].Quality.Name)

	// the proposal is one-time
	_, err = d.Confirm(ctx, &Request{GUID: release.GUID})
	assert.ErrorIs(t, err, ErrNoProposal)
}

func TestConfirmConcurrentSameGUIDSubmitsOnce(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{accepted("job-1")}}
	d := f.dispatcher(client, Options{})
	ctx := context.Background()

	release := f.resolvedRelease()
	d.Propose(release)

	const confirms = 8
	errs := make([]error, confirms)

	var wg sync.WaitGroup
	for i := range confirms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Confirm(ctx, &Request{GUID: release.GUID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrNoProposal)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, client.calls)

	page, err := f.history.List(ctx, models.HistoryFilter{EventType: models.HistoryEventGrabbed}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalRecords)

	items, err := f.queue.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestConfirmSubmitErrorKeepsProposalPending(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{err: errors.New("network unreachable")}
	d := f.dispatcher(client, Options{})
	ctx := context.Background()

	release := f.resolvedRelease()
	d.Propose(release)

	_, err := d.Confirm(ctx, &Request{GUID: release.GUID})
	require.Error(t, err)

	client.err = nil
	client.results = []*DispatchResult{accepted("job-1")}
	result, err := d.Confirm(ctx, &Request{GUID: release.GUID})
	require.NoError(t, err)
	assert.Equal(t, DispatchAccepted, result.Status)
}

func TestConfirmUnresolvedRequiresOverride(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{accepted("job-1")}}
	d := f.dispatcher(client, Options{})
	ctx := context.Background()

	release := f.unresolvedRelease()
	d.Propose(release)

	_, err := d.Confirm(ctx, &Request{GUID: release.GUID})
	assert.ErrorIs(t, err, ErrConfirmationRequired)

	// the failed confirm did not consume the proposal; an override resolves it
	result, err := d.Confirm(ctx, &Request{
		GUID: release.GUID,
		Override: &Override{
			SeriesID:       f.seriesID,
			SeasonNumber:   1,
			EpisodeNumbers: []int{1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, DispatchAccepted, result.Status)
	assert.Equal(t, f.seriesID, client.lastRelease.SeriesID)
}

func TestConfirmOverrideValidation(t *testing.T) {
	f := newDispatcherFixture(t)
	d := f.dispatcher(&fakeClient{results: []*DispatchResult{accepted("job-1")}}, Options{})
	ctx := context.Background()

	release := f.unresolvedRelease()
	d.Propose(release)

	_, err := d.Confirm(ctx, &Request{
		GUID:     release.GUID,
		Override: &Override{SeriesID: 9999, SeasonNumber: 1, EpisodeNumbers: []int{1}},
	})
	assert.ErrorIs(t, err, ErrUnknownSeries)

	_, err = d.Confirm(ctx, &Request{
		GUID:     release.GUID,
		Override: &Override{SeriesID: f.seriesID, SeasonNumber: 1, EpisodeNumbers: []int{42}},
	})
	assert.ErrorIs(t, err, ErrUnknownEpisode)
}

func TestConfirmOverrideReplacesQualityAndLanguage(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{accepted("job-1")}}
	d := f.dispatcher(client, Options{})

	release := f.resolvedRelease()
	d.Propose(release)

	_, err := d.Confirm(context.Background(), &Request{
		GUID: release.GUID,
		Override: &Override{
			Quality:  &models.Quality{Name: "HDTV-720p", Resolution: 720},
			Language: "german",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "HDTV-720p", client.lastRelease.Quality.Name)
	assert.Equal(t, []string{"german"}, client.lastRelease.Languages)
}

func TestConfirmClientRejectionSpendsProposalWithoutHistory(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{{Status: DispatchRejectedByClient, Reason: "duplicate"}}}
	d := f.dispatcher(client, Options{})
	ctx := context.Background()

	release := f.resolvedRelease()
	d.Propose(release)

	result, err := d.Confirm(ctx, &Request{GUID: release.GUID})
	require.NoError(t, err)
	assert.Equal(t, DispatchRejectedByClient, result.Status)

	page, err := f.history.List(ctx, models.HistoryFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.TotalRecords)

	_, err = d.Confirm(ctx, &Request{GUID: release.GUID})
	assert.ErrorIs(t, err, ErrNoProposal)
}

func TestConfirmTransientKeepsProposalPending(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{transient("client busy"), accepted("job-1")}}
	d := f.dispatcher(client, Options{})
	ctx := context.Background()

	release := f.resolvedRelease()
	d.Propose(release)

	result, err := d.Confirm(ctx, &Request{GUID: release.GUID})
	require.NoError(t, err)
	assert.Equal(t, DispatchTransientFailure, result.Status)

	result, err = d.Confirm(ctx, &Request{GUID: release.GUID})
	require.NoError(t, err)
	assert.Equal(t, DispatchAccepted, result.Status)
}

func TestConfirmWithRetryRecoversFromTransientFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{transient("client busy"), accepted("job-1")}}
	d := f.dispatcher(client, Options{MaxTransientRetries: 3})

	release := f.resolvedRelease()
	d.Propose(release)

	result, err := d.ConfirmWithRetry(context.Background(), &Request{GUID: release.GUID})
	require.NoError(t, err)
	assert.Equal(t, DispatchAccepted, result.Status)
	assert.Equal(t, 2, client.calls)
}

func TestConfirmWithRetryExhaustsBudget(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{results: []*DispatchResult{transient("client busy")}}
	d := f.dispatcher(client, Options{MaxTransientRetries: 2})

	release := f.resolvedRelease()
	d.Propose(release)

	result, err := d.ConfirmWithRetry(context.Background(), &Request{GUID: release.GUID})
	require.ErrorIs(t, err, ErrTransientExhausted)
	require.NotNil(t, result)
	assert.Equal(t, DispatchTransientFailure, result.Status)
	assert.Equal(t, 2, client.calls)
}

func TestConfirmWithRetryDoesNotRetryHardErrors(t *testing.T) {
	f := newDispatcherFixture(t)
	client := &fakeClient{err: errors.New("network unreachable")}
	d := f.dispatcher(client, Options{MaxTransientRetries: 3})

	release := f.resolvedRelease()
	d.Propose(release)

	_, err := d.ConfirmWithRetry(context.Background(), &Request{GUID: release.GUID})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestSeedCriteriaOnlyAttachedToTorrents(t *testing.T) {
	f := newDispatcherFixture(t)
	seed := &SeedCriteria{Ratio: 2, SeedTimeMinutes: 120}
	client := &fakeClient{results: []*DispatchResult{accepted("job-1"), accepted("job-2")}}
	d := f.dispatcher(client, Options{Seed: seed})
	ctx := context.Background()

	torrent := f.resolvedRelease()
	d.Propose(torrent)
	_, err := d.Confirm(ctx, &Request{GUID: torrent.GUID})
	require.NoError(t, err)
	assert.Equal(t, seed, client.lastSeed)

	usenet := f.resolvedRelease()
	usenet.GUID = "guid-usenet"
	usenet.Protocol = models.ProtocolUsenet
	usenet.InfoHash = ""
	d.Propose(usenet)
	_, err = d.Confirm(ctx, &Request{GUID: usenet.GUID})
	require.NoError(t, err)
	assert.Nil(t, client.lastSeed)
}

func TestAbandonDropsProposal(t *testing.T) {
	f := newDispatcherFixture(t)
	d := f.dispatcher(&fakeClient{results: []*DispatchResult{accepted("job")}}, Options{})

	release := f.resolvedRelease()
	d.Propose(release)
	d.Abandon(release.GUID)

	_, err := d.Confirm(context.Background(), &Request{GUID: release.GUID})
	assert.ErrorIs(t, err, ErrNoProposal)
}
