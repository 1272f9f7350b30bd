// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Query is what the pipeline asks each candidate source for.
type Query struct {
	Text    string
	Season  int
	Episode int
}

// Source is one indexer adapter the pipeline can fan out to.
type Source interface {
	Details() *models.Indexer
	Search(ctx context.Context, query *Query) ([]models.Release, error)
}

// SourceProvider yields the currently enabled sources.
type SourceProvider interface {
	Sources(ctx context.Context) ([]Source, error)
}

// IndexerLister reports the configured indexers, enabled or not.
type IndexerLister interface {
	List(ctx context.Context) ([]*models.Indexer, error)
}

// ProfileLoader resolves the active profile and custom formats for a search.
type ProfileLoader interface {
	Get(ctx context.Context, id int) (*models.QualityProfile, error)
}

// FormatLoader lists the custom formats to score with.
type FormatLoader interface {
	List(ctx context.Context) ([]*models.CustomFormat, error)
}

// SearchRequest identifies the wanted item.
type SearchRequest struct {
	SeriesID      int
	SeasonNumber  int
	EpisodeNumber int // zero means a whole-season search
	Mode          Mode
}

// PipelineOptions tunes pipeline behavior.
type PipelineOptions struct {
	// EvalWorkers bounds concurrent specification-chain evaluation, since the
	// trailing rules read shared stores. Defaults to 4.
	EvalWorkers int64
	// MaxFailures feeds the repeated-failure rule.
	MaxFailures int
	// DisabledProtocols are rejected outright.
	DisabledProtocols []models.Protocol
	// RankPolicy orders the final list.
	RankPolicy RankPolicy
}

// Pipeline fans a search out to every enabled source, runs each candidate
// through scoring and the specification chain, and returns a deterministic
// ranked list with rejected candidates annotated and sorted last.
type Pipeline struct {
	sources   SourceProvider
	indexers  IndexerLister
	series    *models.SeriesStore
	profiles  ProfileLoader
	formats   FormatLoader
	blocklist BlocklistChecker
	history   FailureCounter
	mapper    *Mapper
	chain     *Chain
	opts      PipelineOptions
}

// NewPipeline wires the pipeline with its collaborators.
func NewPipeline(sources SourceProvider, indexers IndexerLister, series *models.SeriesStore, profiles ProfileLoader, formats FormatLoader, blocklist BlocklistChecker, history FailureCounter, opts PipelineOptions) *Pipeline {
	if opts.EvalWorkers <= 0 {
		opts.EvalWorkers = 4
	}
	if len(opts.RankPolicy.TieBreakers) == 0 {
		opts.RankPolicy = DefaultRankPolicy()
	}
	return &Pipeline{
		sources:   sources,
		indexers:  indexers,
		series:    series,
		profiles:  profiles,
		formats:   formats,
		blocklist: blocklist,
		history:   history,
		mapper:    NewMapper(series),
		chain:     NewChain(),
		opts:      opts,
	}
}

// Search runs the full pipeline for a wanted item. On cancellation it
// returns whatever was collected so far together with the context error;
// automatic callers discard partial results, inspect callers may surface
// them.
func (p *Pipeline) Search(ctx context.Context, req *SearchRequest) ([]*models.AnnotatedRelease, error) {
	sctx, err := p.buildSearchContext(ctx, req)
	if err != nil {
		return nil, err
	}

	formats, err := p.formats.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load custom formats: %w", err)
	}
	scorer, err := NewScorer(formats)
	if err != nil {
		return nil, fmt.Errorf("build scorer: %w", err)
	}

	sources, err := p.sources.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve candidate sources: %w", err)
	}

	releases := p.fanOut(ctx, sources, &Query{
		Text:    sctx.Series.Title,
		Season:  req.SeasonNumber,
		Episode: req.EpisodeNumber,
	})

	// re-read indexer state after the fan-out so candidates from an indexer
	// disabled mid-search are rejected rather than grabbed
	sctx.DisabledIndexers = p.disabledIndexers(ctx)

	annotated := p.evaluate(ctx, releases, scorer, sctx, req.Mode)
	p.opts.RankPolicy.Sort(annotated)

	if err := ctx.Err(); err != nil {
		return annotated, err
	}
	return annotated, nil
}

func (p *Pipeline) buildSearchContext(ctx context.Context, req *SearchRequest) (*SearchContext, error) {
	series, err := p.series.Get(ctx, req.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("load series %d: %w", req.SeriesID, err)
	}

	var episode *models.Episode
	if req.EpisodeNumber > 0 {
		episode, err = p.series.FindEpisode(ctx, req.SeriesID, req.SeasonNumber, req.EpisodeNumber)
		if err != nil {
			return nil, fmt.Errorf("load episode: %w", err)
		}
	}

	profile, err := p.profiles.Get(ctx, series.QualityProfileID)
	if err != nil {
		return nil, fmt.Errorf("load quality profile %d: %w", series.QualityProfileID, err)
	}

	disabledProtocols := make(map[models.Protocol]struct{}, len(p.opts.DisabledProtocols))
	for _, protocol := range p.opts.DisabledProtocols {
		disabledProtocols[protocol] = struct{}{}
	}

	return &SearchContext{
		Series:            series,
		Episode:           episode,
		Profile:           profile,
		Blocklist:         p.blocklist,
		History:           p.history,
		DisabledProtocols: disabledProtocols,
		DisabledIndexers:  map[int]struct{}{},
		MaxFailures:       p.opts.MaxFailures,
	}, nil
}

func (p *Pipeline) disabledIndexers(ctx context.Context) map[int]struct{} {
	disabled := map[int]struct{}{}

	indexers, err := p.indexers.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not refresh indexer state, skipping disabled-indexer check")
		return disabled
	}
	for _, indexer := range indexers {
		if !indexer.Enabled {
			disabled[indexer.ID] = struct{}{}
		}
	}
	return disabled
}

// fanOut queries every source concurrently. Each source gets its own timeout
// and an erroring or slow source contributes zero candidates without failing
// the search.
func (p *Pipeline) fanOut(ctx context.Context, sources []Source, query *Query) []models.Release {
	type sourceResult struct {
		releases []models.Release
		err      error
		indexer  string
	}

	resultsChan := make(chan sourceResult, len(sources))

	for _, source := range sources {
		go func(src Source) {
			details := src.Details()

			queryCtx, cancel := context.WithTimeout(ctx, details.Timeout())
			defer cancel()

			releases, err := src.Search(queryCtx, query)
			resultsChan <- sourceResult{releases: releases, err: err, indexer: details.Name}
		}(source)
	}

	var all []models.Release
	for range sources {
		select {
		case res := <-resultsChan:
			if res.err != nil {
				log.Warn().
					Err(res.err).
					Str("indexer", res.indexer).
					Msg("Candidate source failed, continuing without it")
				continue
			}
			all = append(all, res.releases...)
		case <-ctx.Done():
			return all
		}
	}

	return all
}

// evaluate maps, scores and rule-checks every candidate. Scoring is pure CPU
// and runs inline; chain evaluation ends in store reads, so it runs in a
// bounded worker group.
func (p *Pipeline) evaluate(ctx context.Context, releases []models.Release, scorer *Scorer, sctx *SearchContext, mode Mode) []*models.AnnotatedRelease {
	annotated := make([]*models.AnnotatedRelease, 0, len(releases))
	for i := range releases {
		release := releases[i]
		p.mapper.Map(ctx, &release, sctx.Series)

		candidate := &models.AnnotatedRelease{Release: release}
		candidate.CustomFormatScore, candidate.MatchedFormats, candidate.QualityRank = scorer.Score(&release, sctx.Profile)
		annotated = append(annotated, candidate)
	}

	sem := semaphore.NewWeighted(p.opts.EvalWorkers)
	var wg sync.WaitGroup

	for _, candidate := range annotated {
		if err := sem.Acquire(ctx, 1); err != nil {
			// cancelled: mark the rest as unevaluated
			candidate.Rejections = []models.Rejection{*evaluationError("evaluation cancelled")}
			continue
		}

		wg.Add(1)
		go func(c *models.AnnotatedRelease) {
			defer wg.Done()
			defer sem.Release(1)

			decision := p.chain.Evaluate(ctx, c, sctx, mode)
			c.Rejections = decision.Rejections
			c.DownloadAllowed = decision.Accepted && c.MappingResolved()
		}(candidate)
	}

	wg.Wait()
	return annotated
}
