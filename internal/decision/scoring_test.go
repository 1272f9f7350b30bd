// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

func TestNewScorerRejectsBrokenExpression(t *testing.T) {
	_, err := NewScorer([]*models.CustomFormat{
		{Name: "broken", Weight: 5, Expression: "Seeders >"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestNewScorerRejectsNonBooleanExpression(t *testing.T) {
	_, err := NewScorer([]*models.CustomFormat{
		{Name: "numeric", Weight: 5, Expression: "Seeders + 1"},
	})
	assert.Error(t, err)
}

func TestScoreSumsMatchedWeights(t *testing.T) {
	scorer, err := NewScorer([]*models.CustomFormat{
		{Name: "web", Weight: 10, Expression: `Source == "WEB-DL"`},
		{Name: "proper", Weight: 5, Expression: "Proper"},
		{Name: "bloated", Weight: -20, Expression: "SizeMB > 10000"},
	})
	require.NoError(t, err)

	release := &models.Release{
		Title:    "Show.S01E01.1080p.WEB-DL.PROPER.x264-GRP",
		Protocol: models.ProtocolTorrent,
		Size:     2 << 30,
		Quality: models.Quality{
			Name:       "WEB-DL-1080p",
			Resolution: 1080,
			Source:     "WEB-DL",
			Revision:   models.QualityRevision{Version: 2},
		},
	}

	score, matched, _ := scorer.Score(release, nil)
	assert.Equal(t, 15, score)
	assert.Equal(t, []string{"proper", "web"}, matched)
}

func TestScoreIsDeterministicAcrossStoreOrder(t *testing.T) {
	formats := []*models.CustomFormat{
		{Name: "b", Weight: 1, Expression: "Seeders > 0"},
		{Name: "a", Weight: 2, Expression: "Resolution >= 1080"},
	}
	reversed := []*models.CustomFormat{formats[1], formats[0]}

	release := &models.Release{
		Seeders: 5,
		Quality: models.Quality{Resolution: 1080},
	}

	first, err := NewScorer(formats)
	require.NoError(t, err)
	second, err := NewScorer(reversed)
	require.NoError(t, err)

	scoreA, matchedA, _ := first.Score(release, nil)
	scoreB, matchedB, _ := second.Score(release, nil)
	assert.Equal(t, scoreA, scoreB)
	assert.Equal(t, matchedA, matchedB)
	assert.Equal(t, []string{"a", "b"}, matchedA)
}

func TestScoreRuntimeErrorTreatsFormatAsUnmatched(t *testing.T) {
	scorer, err := NewScorer([]*models.CustomFormat{
		{Name: "divides", Weight: 50, Expression: "Size / Seeders > 1"},
		{Name: "solid", Weight: 3, Expression: "Protocol == \"torrent\""},
	})
	require.NoError(t, err)

	release := &models.Release{
		Protocol: models.ProtocolTorrent,
		Size:     100,
		Seeders:  0,
	}

	score, matched, _ := scorer.Score(release, nil)
	assert.Equal(t, 3, score)
	assert.Equal(t, []string{"solid"}, matched)
}

func TestScoreQualityRank(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	profile := testProfile()

	release := &models.Release{Quality: models.Quality{Name: "WEB-DL-1080p", Revision: models.QualityRevision{Version: 1}}}
	_, _, rank := scorer.Score(release, profile)
	assert.Equal(t, 20, rank)

	// a PROPER of the same quality outranks the original
	release.Quality.Revision.Version = 2
	_, _, properRank := scorer.Score(release, profile)
	assert.Greater(t, properRank, rank)

	release.Quality = models.Quality{Name: "CAM"}
	_, _, rank = scorer.Score(release, profile)
	assert.Equal(t, -1, rank)

	_, _, rank = scorer.Score(release, nil)
	assert.Equal(t, -1, rank)
}
