// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

var (
	// ErrNoProposal means Confirm was called without a prior accepted Propose,
	// or the proposal expired or was already consumed.
	ErrNoProposal = errors.New("no pending proposal for release")
	// ErrConfirmationRequired means the mapping is unresolved and the request
	// carried no override to resolve it.
	ErrConfirmationRequired = errors.New("release mapping is unresolved; an explicit override is required")
	// ErrUnknownSeries means the override points at a series that does not exist.
	ErrUnknownSeries = errors.New("override series does not exist")
	// ErrUnknownEpisode means the override points at an episode that does not exist.
	ErrUnknownEpisode = errors.New("override episode does not exist")
	// ErrTransientExhausted means bounded retries on transient failures ran
	// out; the caller should treat the release as a manual-block decision.
	ErrTransientExhausted = errors.New("transient dispatch failures exceeded the retry budget")
)

const defaultProposalTTL = 10 * time.Minute

// Override replaces the indexer-parsed mapping for one dispatch only.
type Override struct {
	SeriesID       int             `json:"seriesId,omitempty"`
	SeasonNumber   int             `json:"seasonNumber,omitempty"`
	EpisodeNumbers []int           `json:"episodeNumbers,omitempty"`
	Quality        *models.Quality `json:"quality,omitempty"`
	Language       string          `json:"language,omitempty"`
}

// Request carries the confirm intent: the proposed release identity plus an
// optional override.
type Request struct {
	GUID     string    `json:"guid"`
	Override *Override `json:"override,omitempty"`
}

// Proposal is the answer to Propose: whether the release may be dispatched
// without explicit user confirmation.
type Proposal struct {
	GUID            string    `json:"guid"`
	DownloadAllowed bool      `json:"downloadAllowed"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type pendingProposal struct {
	release   models.Release
	expiresAt time.Time
}

// Options tunes dispatcher behavior.
type Options struct {
	// ProposalTTL bounds how long a proposal stays confirmable.
	ProposalTTL time.Duration
	// MaxTransientRetries bounds ConfirmWithRetry.
	MaxTransientRetries int
	// Seed is attached to torrent submissions.
	Seed *SeedCriteria
}

// Dispatcher implements the two-phase Propose/Confirm protocol. Proposals are
// one-time gates: a consumed or expired proposal cannot be confirmed again.
type Dispatcher struct {
	client  DownloadClient
	history *models.HistoryStore
	queue   *models.QueueStore
	series  *models.SeriesStore
	opts    Options

	mu        sync.Mutex
	proposals map[string]*pendingProposal
}

// NewDispatcher wires the dispatcher with its collaborators.
func NewDispatcher(client DownloadClient, history *models.HistoryStore, queue *models.QueueStore, series *models.SeriesStore, opts Options) *Dispatcher {
	if opts.ProposalTTL <= 0 {
		opts.ProposalTTL = defaultProposalTTL
	}
	if opts.MaxTransientRetries <= 0 {
		opts.MaxTransientRetries = 3
	}
	return &Dispatcher{
		client:    client,
		history:   history,
		queue:     queue,
		series:    series,
		opts:      opts,
		proposals: make(map[string]*pendingProposal),
	}
}

// Propose registers the intent to grab a release. DownloadAllowed is false
// exactly when the indexer-parsed mapping could not be resolved; the caller
// must then gather explicit confirmation (and possibly an override) before
// calling Confirm.
func (d *Dispatcher) Propose(release models.Release) *Proposal {
	expiresAt := time.Now().Add(d.opts.ProposalTTL)

	d.mu.Lock()
	d.sweepLocked()
	d.proposals[release.GUID] = &pendingProposal{release: release, expiresAt: expiresAt}
	d.mu.Unlock()

	return &Proposal{
		GUID:            release.GUID,
		DownloadAllowed: release.MappingResolved(),
		ExpiresAt:       expiresAt,
	}
}

// Abandon drops a pending proposal without dispatching.
func (d *Dispatcher) Abandon(guid string) {
	d.mu.Lock()
	delete(d.proposals, guid)
	d.mu.Unlock()
}

// Confirm validates the request against its proposal, merges any override and
// submits to the download client. On acceptance a grabbed history event is
// appended and a queue item created. The submit call itself is shielded from
// caller cancellation: once sent, a created client job must be tracked.
//
// The proposal is consumed the moment it is read, so concurrent confirms for
// the same GUID can never both reach the client. Recoverable outcomes
// (validation errors, transient failures) hand the proposal back.
func (d *Dispatcher) Confirm(ctx context.Context, req *Request) (*DispatchResult, error) {
	if req == nil || req.GUID == "" {
		return nil, ErrNoProposal
	}

	pending, ok := d.take(req.GUID)
	if !ok {
		return nil, ErrNoProposal
	}

	release := pending.release
	if req.Override != nil {
		merged, err := d.applyOverride(ctx, release, req.Override)
		if err != nil {
			d.restore(req.GUID, pending)
			return nil, err
		}
		release = merged
	}
	if !release.MappingResolved() {
		d.restore(req.GUID, pending)
		return nil, ErrConfirmationRequired
	}

	// Past this point cancellation must not abort the submission.
	submitCtx := context.WithoutCancel(ctx)
	result, err := d.client.Submit(submitCtx, &release, d.seedFor(&release))
	if err != nil {
		d.restore(req.GUID, pending)
		return nil, fmt.Errorf("submit release to download client: %w", err)
	}

	switch result.Status {
	case DispatchAccepted:
		if err := d.recordGrab(submitCtx, &release, result.ClientJobID); err != nil {
			return result, err
		}
	case DispatchRejectedByClient:
		// definitive: the proposal stays consumed, no history is written
		log.Warn().
			Str("release", release.Title).
			Str("reason", result.Reason).
			Msg("Download client rejected release")
	case DispatchTransientFailure:
		// hand the proposal back so the caller can retry
		d.restore(req.GUID, pending)
		log.Debug().
			Str("release", release.Title).
			Str("reason", result.Reason).
			Msg("Transient dispatch failure")
	}

	return result, nil
}

// take removes and returns the pending proposal for guid. Expired proposals
// are dropped and report absent.
func (d *Dispatcher) take(guid string) (*pendingProposal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending, ok := d.proposals[guid]
	if !ok {
		return nil, false
	}
	delete(d.proposals, guid)
	if time.Now().After(pending.expiresAt) {
		return nil, false
	}
	return pending, true
}

// restore puts a taken proposal back unless a fresh Propose replaced it in
// the meantime. The original expiry carries over.
func (d *Dispatcher) restore(guid string, pending *pendingProposal) {
	d.mu.Lock()
	if _, exists := d.proposals[guid]; !exists {
		d.proposals[guid] = pending
	}
	d.mu.Unlock()
}

// ConfirmWithRetry wraps Confirm with a bounded retry on transient failures.
// When the budget runs out the release is escalated to a manual-block
// decision via ErrTransientExhausted.
func (d *Dispatcher) ConfirmWithRetry(ctx context.Context, req *Request) (*DispatchResult, error) {
	var result *DispatchResult

	err := retry.Do(
		func() error {
			var err error
			result, err = d.Confirm(ctx, req)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if result.Status == DispatchTransientFailure {
				return fmt.Errorf("transient dispatch failure: %s", result.Reason)
			}
			return nil
		},
		retry.Attempts(uint(d.opts.MaxTransientRetries)),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if result != nil && result.Status == DispatchTransientFailure {
			return result, ErrTransientExhausted
		}
		return nil, err
	}

	return result, nil
}

func (d *Dispatcher) applyOverride(ctx context.Context, release models.Release, override *Override) (models.Release, error) {
	if override.SeriesID > 0 {
		series, err := d.series.Get(ctx, override.SeriesID)
		if err != nil {
			return release, fmt.Errorf("%w: series %d", ErrUnknownSeries, override.SeriesID)
		}

		season := override.SeasonNumber
		if season == 0 {
			season = release.MappedSeason
		}
		episodes := override.EpisodeNumbers
		if len(episodes) == 0 {
			episodes = release.MappedEpisodes
		}
		for _, number := range episodes {
			episode, err := d.series.FindEpisode(ctx, series.ID, season, number)
			if err != nil {
				return release, fmt.Errorf("look up override episode: %w", err)
			}
			if episode == nil {
				return release, fmt.Errorf("%w: S%02dE%02d", ErrUnknownEpisode, season, number)
			}
		}

		release.SeriesID = series.ID
		release.MappedSeason = season
		release.MappedEpisodes = episodes
	}

	if override.Quality != nil {
		release.Quality = *override.Quality
	}
	if override.Language != "" {
		release.Languages = []string{override.Language}
	}

	return release, nil
}

func (d *Dispatcher) recordGrab(ctx context.Context, release *models.Release, clientJobID string) error {
	_, err := d.history.Append(ctx, &models.HistoryEvent{
		EventType:   models.HistoryEventGrabbed,
		SourceTitle: release.SourceTitle,
		GUID:        release.GUID,
		SeriesID:    release.SeriesID,
		IndexerID:   release.IndexerID,
		Protocol:    release.Protocol,
		InfoHash:    release.InfoHash,
		ClientJobID: clientJobID,
	})
	if err != nil {
		return fmt.Errorf("record grab history: %w", err)
	}

	episodeIDs, err := d.resolveEpisodeIDs(ctx, release)
	if err != nil {
		log.Warn().Err(err).Str("release", release.Title).Msg("Could not resolve episode ids for queue item")
	}

	_, err = d.queue.Insert(ctx, &models.QueueItem{
		ClientJobID: clientJobID,
		GUID:        release.GUID,
		SourceTitle: release.SourceTitle,
		SeriesID:    release.SeriesID,
		EpisodeIDs:  episodeIDs,
		IndexerID:   release.IndexerID,
		Protocol:    release.Protocol,
		InfoHash:    release.InfoHash,
		Size:        release.Size,
		Quality:     release.Quality,
	})
	if err != nil {
		return fmt.Errorf("create queue item: %w", err)
	}

	log.Info().
		Str("release", release.Title).
		Str("clientJobId", clientJobID).
		Msg("Release grabbed")
	return nil
}

func (d *Dispatcher) resolveEpisodeIDs(ctx context.Context, release *models.Release) ([]int, error) {
	var ids []int
	for _, number := range release.MappedEpisodes {
		episode, err := d.series.FindEpisode(ctx, release.SeriesID, release.MappedSeason, number)
		if err != nil {
			return ids, err
		}
		if episode != nil {
			ids = append(ids, episode.ID)
		}
	}
	return ids, nil
}

func (d *Dispatcher) seedFor(release *models.Release) *SeedCriteria {
	if release.Protocol != models.ProtocolTorrent {
		return nil
	}
	return d.opts.Seed
}

func (d *Dispatcher) sweepLocked() {
	now := time.Now()
	for guid, pending := range d.proposals {
		if now.After(pending.expiresAt) {
			delete(d.proposals, guid)
		}
	}
}
