// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

type staticBlocklist struct {
	blocked bool
	err     error
}

func (b staticBlocklist) Contains(context.Context, string) (bool, error) {
	return b.blocked, b.err
}

type staticFailures struct {
	count int
	err   error
}

func (f staticFailures) CountFailures(context.Context, string) (int, error) {
	return f.count, f.err
}

func testProfile() *models.QualityProfile {
	return &models.QualityProfile{
		ID:   1,
		Name: "HD",
		Qualities: []models.ProfileQuality{
			{Name: "HDTV-720p", Allowed: true},
			{Name: "WEB-DL-1080p", Allowed: true},
		},
		Languages:       []string{"english"},
		UpgradesAllowed: true,
	}
}

func testCandidate() *models.AnnotatedRelease {
	return &models.AnnotatedRelease{
		Release: models.Release{
			GUID:           "guid-1",
			IndexerID:      1,
			Indexer:        "nyaa",
			Protocol:       models.ProtocolTorrent,
			Title:          "Show.S01E01.1080p.WEB-DL.x264-GRP",
			SourceTitle:    "Show.S01E01.1080p.WEB-DL.x264-GRP",
			Quality:        models.Quality{Name: "WEB-DL-1080p", Resolution: 1080, Source: "WEB-DL", Revision: models.QualityRevision{Version: 1}},
			Languages:      []string{"english"},
			SeriesID:       1,
			MappedSeason:   1,
			MappedEpisodes: []int{1},
		},
	}
}

func testSearchContext() *SearchContext {
	return &SearchContext{
		Series:            &models.Series{ID: 1, Title: "Show", QualityProfileID: 1},
		Profile:           testProfile(),
		DisabledProtocols: map[models.Protocol]struct{}{},
		DisabledIndexers:  map[int]struct{}{},
	}
}

func TestChainAcceptsCleanCandidate(t *testing.T) {
	chain := NewChain()

	decision := chain.Evaluate(context.Background(), testCandidate(), testSearchContext(), Inspect)
	assert.True(t, decision.Accepted)
	assert.Empty(t, decision.Rejections)
}

func TestChainAutomaticGrabStopsAtFirstFailure(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.DisabledProtocols[models.ProtocolTorrent] = struct{}{}

	candidate := testCandidate()
	candidate.Quality = models.Quality{Name: "CAM"}

	decision := chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	require.Len(t, decision.Rejections, 1)
	assert.Equal(t, models.RejectionProtocolDisabled, decision.Rejections[0].Reason)
}

func TestChainInspectAccumulatesEveryFailure(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.DisabledProtocols[models.ProtocolTorrent] = struct{}{}

	candidate := testCandidate()
	candidate.Quality = models.Quality{Name: "CAM"}
	candidate.Languages = []string{"french"}

	decision := chain.Evaluate(context.Background(), candidate, sctx, Inspect)
	require.False(t, decision.Accepted)

	reasons := make([]models.RejectionReason, 0, len(decision.Rejections))
	for _, rejection := range decision.Rejections {
		reasons = append(reasons, rejection.Reason)
	}
	assert.Contains(t, reasons, models.RejectionProtocolDisabled)
	assert.Contains(t, reasons, models.RejectionQualityNotWanted)
	assert.Contains(t, reasons, models.RejectionLanguageNotWanted)
}

func TestChainBlocklistedCandidateNeverAccepted(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.Blocklist = staticBlocklist{blocked: true}

	candidate := testCandidate()
	decision := chain.Evaluate(context.Background(), candidate, sctx, Inspect)

	require.False(t, decision.Accepted)
	require.Len(t, decision.Rejections, 1)
	assert.Equal(t, models.RejectionBlocklisted, decision.Rejections[0].Reason)
	assert.True(t, candidate.IsBlocklisted)
}

func TestChainBlocklistLookupErrorRejects(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.Blocklist = staticBlocklist{err: errors.New("store down")}

	decision := chain.Evaluate(context.Background(), testCandidate(), sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionEvaluationError, decision.Rejections[0].Reason)
}

func TestChainRepeatedFailures(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.History = staticFailures{count: 3}
	sctx.MaxFailures = 3

	decision := chain.Evaluate(context.Background(), testCandidate(), sctx, Inspect)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionRepeatedFailures, decision.Rejections[0].Reason)

	sctx.MaxFailures = 0
	decision = chain.Evaluate(context.Background(), testCandidate(), sctx, Inspect)
	assert.True(t, decision.Accepted)
}

func TestChainCancellationRejectsInsteadOfAccepting(t *testing.T) {
	chain := NewChain()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision := chain.Evaluate(ctx, testCandidate(), testSearchContext(), Inspect)
	require.False(t, decision.Accepted)
	require.Len(t, decision.Rejections, 1)
	assert.Equal(t, models.RejectionEvaluationError, decision.Rejections[0].Reason)
}

func TestUpgradeRuleRequiresStrictImprovement(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.Episode = &models.Episode{
		ID:              1,
		SeriesID:        1,
		HasFile:         true,
		FileQuality:     models.Quality{Name: "HDTV-720p", Revision: models.QualityRevision{Version: 1}},
		FileFormatScore: 10,
		FileSize:        2 << 30,
	}

	// lower format score is not an upgrade
	candidate := testCandidate()
	candidate.CustomFormatScore = 5
	decision := chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionNotAnUpgrade, decision.Rejections[0].Reason)

	// equal score but better quality rank is
	candidate = testCandidate()
	candidate.CustomFormatScore = 10
	decision = chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	assert.True(t, decision.Accepted)

	// equal score and quality is a tie, and ties are not upgrades
	candidate = testCandidate()
	candidate.CustomFormatScore = 10
	candidate.Quality = models.Quality{Name: "HDTV-720p", Revision: models.QualityRevision{Version: 1}}
	decision = chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionNotAnUpgrade, decision.Rejections[0].Reason)

	// same quality but a PROPER revision outranks the held file
	candidate = testCandidate()
	candidate.CustomFormatScore = 10
	candidate.Quality = models.Quality{Name: "HDTV-720p", Revision: models.QualityRevision{Version: 2}}
	decision = chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	assert.True(t, decision.Accepted)

	// upgrades disabled rejects outright
	sctx.Profile.UpgradesAllowed = false
	candidate = testCandidate()
	candidate.CustomFormatScore = 100
	decision = chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionNotAnUpgrade, decision.Rejections[0].Reason)
}

func TestSizeRuleBoundsPerMinute(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.Series.RuntimeMinutes = 40
	sctx.Profile.MinSizePerMinute = 5
	sctx.Profile.MaxSizePerMinute = 100

	// 40 min * 100 MB/min = 4000 MB ceiling; 8 GB is over it
	candidate := testCandidate()
	candidate.Size = 8 << 30
	decision := chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionSizeOutOfRange, decision.Rejections[0].Reason)

	// 50 MB is under the 200 MB floor
	candidate = testCandidate()
	candidate.Size = 50 << 20
	decision = chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionSizeOutOfRange, decision.Rejections[0].Reason)

	// 2 GB for 40 minutes sits comfortably inside the bounds
	candidate = testCandidate()
	candidate.Size = 2 << 30
	decision = chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	assert.True(t, decision.Accepted)

	// unknown size cannot be judged
	candidate = testCandidate()
	candidate.Size = 0
	decision = chain.Evaluate(context.Background(), candidate, sctx, AutomaticGrab)
	assert.True(t, decision.Accepted)
}

func TestQualityRuleWithoutProfileIsEvaluationError(t *testing.T) {
	chain := NewChain()
	sctx := testSearchContext()
	sctx.Profile = nil

	decision := chain.Evaluate(context.Background(), testCandidate(), sctx, AutomaticGrab)
	require.False(t, decision.Accepted)
	assert.Equal(t, models.RejectionEvaluationError, decision.Rejections[0].Reason)
}

func TestChainStatefulRulesTrail(t *testing.T) {
	chain := NewChain()
	assert.Equal(t, 2, chain.StatefulRules())
}
