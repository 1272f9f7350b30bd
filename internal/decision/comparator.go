// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"sort"

	"github.com/fetcharr/fetcharr/internal/models"
)

// TieBreaker names one criterion applied after score and quality rank.
type TieBreaker string

const (
	TieBreakerSeeders TieBreaker = "seeders"
	TieBreakerAge     TieBreaker = "age"
	TieBreakerSize    TieBreaker = "size"
)

// RankPolicy is the configurable tie-break order applied among candidates
// with equal custom-format score and quality rank.
type RankPolicy struct {
	TieBreakers []TieBreaker
}

// DefaultRankPolicy prefers well-seeded torrents, then fresher releases.
func DefaultRankPolicy() RankPolicy {
	return RankPolicy{TieBreakers: []TieBreaker{TieBreakerSeeders, TieBreakerAge}}
}

// ParseRankPolicy builds a policy from configured tie-breaker names,
// ignoring names it does not know.
func ParseRankPolicy(names []string) RankPolicy {
	var breakers []TieBreaker
	for _, name := range names {
		switch TieBreaker(name) {
		case TieBreakerSeeders, TieBreakerAge, TieBreakerSize:
			breakers = append(breakers, TieBreaker(name))
		}
	}
	if len(breakers) == 0 {
		return DefaultRankPolicy()
	}
	return RankPolicy{TieBreakers: breakers}
}

// Compare orders two candidates, best first. Accepted candidates always sort
// before rejected ones; within each group the composite comparator applies:
// custom-format score, quality rank, then the policy tie-breakers. The final
// fallback on (indexer id, guid) makes the order total, so sorting any
// permutation of the same candidates yields the same result.
func (p RankPolicy) Compare(a, b *models.AnnotatedRelease) int {
	if c := compareBool(a.Accepted(), b.Accepted()); c != 0 {
		return c
	}
	if c := compareInt(a.CustomFormatScore, b.CustomFormatScore); c != 0 {
		return c
	}
	if c := compareInt(a.QualityRank, b.QualityRank); c != 0 {
		return c
	}

	for _, breaker := range p.TieBreakers {
		switch breaker {
		case TieBreakerSeeders:
			// only meaningful when both candidates have a swarm
			if a.Protocol == models.ProtocolTorrent && b.Protocol == models.ProtocolTorrent {
				if c := compareInt(a.Seeders, b.Seeders); c != 0 {
					return c
				}
			}
		case TieBreakerAge:
			// fresher first
			if !a.PublishDate.Equal(b.PublishDate) {
				if a.PublishDate.After(b.PublishDate) {
					return -1
				}
				return 1
			}
		case TieBreakerSize:
			// smaller first
			if c := compareInt64(b.Size, a.Size); c != 0 {
				return c
			}
		}
	}

	if c := compareInt(b.IndexerID, a.IndexerID); c != 0 {
		return c
	}
	switch {
	case a.GUID < b.GUID:
		return -1
	case a.GUID > b.GUID:
		return 1
	}
	return 0
}

// Sort orders candidates in place, best first.
func (p RankPolicy) Sort(candidates []*models.AnnotatedRelease) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return p.Compare(candidates[i], candidates[j]) < 0
	})
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

func compareInt(a, b int) int {
	// higher first
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
