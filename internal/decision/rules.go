// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

// clockNow is swapped in tests for deterministic age calculations.
var clockNow = time.Now

// BlocklistChecker is the read access a rule needs to the blocklist.
type BlocklistChecker interface {
	Contains(ctx context.Context, identityKey string) (bool, error)
}

// FailureCounter is the read access a rule needs to the history ledger.
type FailureCounter interface {
	CountFailures(ctx context.Context, sourceTitle string) (int, error)
}

// SearchContext carries everything the rules need about the wanted item and
// the stores they may consult. Stateful rules go last in the chain so the
// cheap checks can short-circuit before any store read happens.
type SearchContext struct {
	Series  *models.Series
	Episode *models.Episode
	Profile *models.QualityProfile

	Blocklist BlocklistChecker
	History   FailureCounter

	// DisabledProtocols and DisabledIndexers are derived from configuration
	// and indexer state by the pipeline before evaluation starts.
	DisabledProtocols map[models.Protocol]struct{}
	DisabledIndexers  map[int]struct{}

	// MaxFailures is how many failed downloads of the same source title are
	// tolerated before the repeated-failure rule rejects. Zero disables it.
	MaxFailures int
}

// Rule is one acceptance specification. Evaluate returns nil when the
// candidate passes. Rules never return Go errors: a rule that cannot
// evaluate converts the problem into an evaluationError rejection so a
// broken rule can never silently accept.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection
}

// Stateful marks rules that perform store I/O; the chain keeps them at the
// end and the pipeline bounds their concurrency.
type Stateful interface {
	Stateful() bool
}

func evaluationError(detail string) *models.Rejection {
	return &models.Rejection{Reason: models.RejectionEvaluationError, Detail: detail}
}

// protocolRule rejects candidates on a protocol that is disabled.
type protocolRule struct{}

func (protocolRule) Name() string { return "protocol" }

func (protocolRule) Evaluate(_ context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if _, disabled := sctx.DisabledProtocols[candidate.Protocol]; disabled {
		return &models.Rejection{
			Reason: models.RejectionProtocolDisabled,
			Detail: fmt.Sprintf("%s downloads are disabled", candidate.Protocol),
		}
	}
	return nil
}

// indexerRule rejects candidates from an indexer that has been disabled since
// the search was issued.
type indexerRule struct{}

func (indexerRule) Name() string { return "indexer" }

func (indexerRule) Evaluate(_ context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if _, disabled := sctx.DisabledIndexers[candidate.IndexerID]; disabled {
		return &models.Rejection{
			Reason: models.RejectionIndexerDisabled,
			Detail: fmt.Sprintf("indexer %s is disabled", candidate.Indexer),
		}
	}
	return nil
}

// qualityRule rejects candidates whose quality is not allowed by the profile.
type qualityRule struct{}

func (qualityRule) Name() string { return "quality" }

func (qualityRule) Evaluate(_ context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if sctx.Profile == nil {
		return evaluationError("no quality profile configured for the wanted item")
	}
	if sctx.Profile.QualityRank(candidate.Quality) < 0 {
		return &models.Rejection{
			Reason: models.RejectionQualityNotWanted,
			Detail: fmt.Sprintf("%s is not wanted in profile %s", candidate.Quality.Name, sctx.Profile.Name),
		}
	}
	return nil
}

// languageRule rejects candidates in none of the profile's languages.
type languageRule struct{}

func (languageRule) Name() string { return "language" }

func (languageRule) Evaluate(_ context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if sctx.Profile == nil {
		return evaluationError("no quality profile configured for the wanted item")
	}
	if !sctx.Profile.LanguageWanted(candidate.Languages) {
		return &models.Rejection{
			Reason: models.RejectionLanguageNotWanted,
			Detail: fmt.Sprintf("wanted languages: %s", strings.Join(sctx.Profile.Languages, ", ")),
		}
	}
	return nil
}

// sizeRule rejects candidates outside the profile's size-per-minute bounds.
// Candidates with unknown runtime pass: size cannot be judged without it.
type sizeRule struct{}

func (sizeRule) Name() string { return "size" }

func (sizeRule) Evaluate(_ context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if sctx.Profile == nil {
		return evaluationError("no quality profile configured for the wanted item")
	}

	runtime := candidate.RuntimeMinutes
	if runtime <= 0 && sctx.Series != nil {
		runtime = sctx.Series.RuntimeMinutes
	}
	if runtime <= 0 || candidate.Size <= 0 {
		return nil
	}

	episodes := len(candidate.MappedEpisodes)
	if episodes == 0 {
		episodes = 1
	}
	perMinute := float64(candidate.Size) / (1024 * 1024) / float64(runtime*episodes)

	if sctx.Profile.MinSizePerMinute > 0 && perMinute < sctx.Profile.MinSizePerMinute {
		return &models.Rejection{
			Reason: models.RejectionSizeOutOfRange,
			Detail: fmt.Sprintf("%.1f MB/min is below the minimum %.1f MB/min", perMinute, sctx.Profile.MinSizePerMinute),
		}
	}
	if sctx.Profile.MaxSizePerMinute > 0 && perMinute > sctx.Profile.MaxSizePerMinute {
		return &models.Rejection{
			Reason: models.RejectionSizeOutOfRange,
			Detail: fmt.Sprintf("%.1f MB/min exceeds the maximum %.1f MB/min", perMinute, sctx.Profile.MaxSizePerMinute),
		}
	}
	return nil
}

// formatScoreRule rejects candidates below the profile's minimum
// custom-format score. The score was computed by the scorer before the chain
// runs.
type formatScoreRule struct{}

func (formatScoreRule) Name() string { return "formatScore" }

func (formatScoreRule) Evaluate(_ context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if sctx.Profile == nil {
		return evaluationError("no quality profile configured for the wanted item")
	}
	if candidate.CustomFormatScore < sctx.Profile.MinFormatScore {
		return &models.Rejection{
			Reason: models.RejectionFormatScoreTooLow,
			Detail: fmt.Sprintf("score %d is below the minimum %d", candidate.CustomFormatScore, sctx.Profile.MinFormatScore),
		}
	}
	return nil
}

// upgradeRule rejects candidates that are not a strict upgrade over the file
// already held for the episode. Ties are not upgrades.
type upgradeRule struct{}

func (upgradeRule) Name() string { return "upgrade" }

func (upgradeRule) Evaluate(_ context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if sctx.Episode == nil || !sctx.Episode.HasFile {
		return nil
	}
	if sctx.Profile == nil {
		return evaluationError("no quality profile configured for the wanted item")
	}
	if !sctx.Profile.UpgradesAllowed {
		return &models.Rejection{
			Reason: models.RejectionNotAnUpgrade,
			Detail: "upgrades are disabled for this profile",
		}
	}

	heldScore := sctx.Episode.FileFormatScore
	heldRank := sctx.Profile.QualityRank(sctx.Episode.FileQuality)

	switch {
	case candidate.CustomFormatScore > heldScore:
		return nil
	case candidate.CustomFormatScore < heldScore:
		return &models.Rejection{
			Reason: models.RejectionNotAnUpgrade,
			Detail: fmt.Sprintf("format score %d does not beat the held file's %d", candidate.CustomFormatScore, heldScore),
		}
	}

	switch {
	case candidate.QualityRank > heldRank:
		return nil
	case candidate.QualityRank < heldRank:
		return &models.Rejection{
			Reason: models.RejectionNotAnUpgrade,
			Detail: fmt.Sprintf("quality %s does not beat the held file's %s", candidate.Quality.Name, sctx.Episode.FileQuality.Name),
		}
	}

	// Same score and quality: prefer the smaller file when both sizes are
	// comparable; otherwise a tie, and ties are not upgrades.
	if candidate.Size > 0 && sctx.Episode.FileSize > 0 && candidate.Size < sctx.Episode.FileSize {
		return nil
	}
	return &models.Rejection{
		Reason: models.RejectionNotAnUpgrade,
		Detail: "candidate is not strictly better than the held file",
	}
}

// blocklistRule rejects candidates whose identity is blocklisted. A blocked
// identity can never be accepted no matter what the other rules decide.
type blocklistRule struct{}

func (blocklistRule) Name() string { return "blocklist" }

func (blocklistRule) Stateful() bool { return true }

func (blocklistRule) Evaluate(ctx context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if sctx.Blocklist == nil {
		return nil
	}
	blocked, err := sctx.Blocklist.Contains(ctx, candidate.BlocklistKey())
	if err != nil {
		return evaluationError(fmt.Sprintf("blocklist lookup failed: %v", err))
	}
	if blocked {
		candidate.IsBlocklisted = true
		return &models.Rejection{
			Reason: models.RejectionBlocklisted,
			Detail: "release was blocked after a previous failure",
		}
	}
	return nil
}

// failureRule rejects candidates whose source title has failed too often.
type failureRule struct{}

func (failureRule) Name() string { return "failureHistory" }

func (failureRule) Stateful() bool { return true }

func (failureRule) Evaluate(ctx context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext) *models.Rejection {
	if sctx.History == nil || sctx.MaxFailures <= 0 {
		return nil
	}
	failures, err := sctx.History.CountFailures(ctx, candidate.SourceTitle)
	if err != nil {
		return evaluationError(fmt.Sprintf("failure history lookup failed: %v", err))
	}
	if failures >= sctx.MaxFailures {
		return &models.Rejection{
			Reason: models.RejectionRepeatedFailures,
			Detail: fmt.Sprintf("failed %d times before", failures),
		}
	}
	return nil
}
