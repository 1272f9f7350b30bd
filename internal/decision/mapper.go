// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"

	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Mapper resolves the scene numbering parsed from a release title to the
// canonical series/season/episode. A release the mapper cannot confidently
// resolve keeps SeriesID zero and has to pass the explicit confirmation gate
// before it may be grabbed.
type Mapper struct {
	series *models.SeriesStore
}

// NewMapper returns a Mapper backed by the series store.
func NewMapper(series *models.SeriesStore) *Mapper {
	return &Mapper{series: series}
}

// Map fills the parsed and mapped numbering on the release in place. hint is
// the series the search was issued for; a parsed title that does not match it
// leaves the mapping unresolved rather than guessing.
func (m *Mapper) Map(ctx context.Context, release *models.Release, hint *models.Series) {
	parsed := rls.ParseString(release.Title)

	if release.ParsedSeason == 0 {
		release.ParsedSeason = parsed.Series
	}
	if len(release.ParsedEpisodes) == 0 && parsed.Episode > 0 {
		release.ParsedEpisodes = []int{parsed.Episode}
	}

	if release.MappingResolved() {
		return
	}
	if hint == nil || release.ParsedSeason == 0 || len(release.ParsedEpisodes) == 0 {
		return
	}

	matched, err := m.series.FindByTitle(ctx, parsed.Title)
	if err != nil {
		log.Warn().Err(err).Str("title", parsed.Title).Msg("Series lookup failed during mapping")
		return
	}
	if matched == nil || matched.ID != hint.ID {
		// ambiguous: the release names a different (or unknown) series
		return
	}

	mapped := make([]int, 0, len(release.ParsedEpisodes))
	for _, number := range release.ParsedEpisodes {
		episode, err := m.series.FindEpisode(ctx, matched.ID, release.ParsedSeason, number)
		if err != nil {
			log.Warn().Err(err).Int("series", matched.ID).Msg("Episode lookup failed during mapping")
			return
		}
		if episode == nil {
			return
		}
		mapped = append(mapped, episode.EpisodeNumber)
	}

	release.SeriesID = matched.ID
	release.MappedSeason = release.ParsedSeason
	release.MappedEpisodes = mapped
	if release.RuntimeMinutes == 0 {
		release.RuntimeMinutes = matched.RuntimeMinutes
	}
}
