// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package decision implements the acceptance rules, scoring and ranked search
// pipeline that pick which release to grab for a wanted item.
package decision

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// FormatEnv is the expression environment a custom format is evaluated
// against. Field names are what users reference in format expressions.
type FormatEnv struct {
	Title        string   `expr:"Title"`
	SourceTitle  string   `expr:"SourceTitle"`
	Protocol     string   `expr:"Protocol"`
	Indexer      string   `expr:"Indexer"`
	Size         int64    `expr:"Size"`
	SizeMB       float64  `expr:"SizeMB"`
	Seeders      int      `expr:"Seeders"`
	Leechers     int      `expr:"Leechers"`
	AgeHours     float64  `expr:"AgeHours"`
	Quality      string   `expr:"Quality"`
	Resolution   int      `expr:"Resolution"`
	Source       string   `expr:"Source"`
	Proper       bool     `expr:"Proper"`
	Languages    []string `expr:"Languages"`
	IndexerFlags uint32   `expr:"IndexerFlags"`
	Season       int      `expr:"Season"`
}

type compiledFormat struct {
	name    string
	weight  int
	program *vm.Program
}

// Scorer computes the custom-format score and quality rank for a candidate.
// It is pure: identical inputs always produce identical outputs.
type Scorer struct {
	formats []compiledFormat
}

// NewScorer compiles the given custom formats. A format that fails to compile
// is rejected outright so a broken expression cannot silently score zero.
func NewScorer(formats []*models.CustomFormat) (*Scorer, error) {
	compiled := make([]compiledFormat, 0, len(formats))
	for _, f := range formats {
		program, err := expr.Compile(f.Expression, expr.Env(FormatEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile custom format %q: %w", f.Name, err)
		}
		compiled = append(compiled, compiledFormat{
			name:    f.Name,
			weight:  f.Weight,
			program: program,
		})
	}

	// deterministic match order independent of store ordering
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].name < compiled[j].name
	})

	return &Scorer{formats: compiled}, nil
}

// Score evaluates every compiled format against the release and returns the
// summed weight of the matches, the matched format names and the quality rank
// within the profile. The score is always derived from the matches; it is
// never settable independently.
func (s *Scorer) Score(release *models.Release, profile *models.QualityProfile) (score int, matched []string, qualityRank int) {
	env := buildFormatEnv(release)

	for _, f := range s.formats {
		result, err := expr.Run(f.program, env)
		if err != nil {
			log.Debug().
				Err(err).
				Str("format", f.name).
				Str("release", release.Title).
				Msg("Custom format evaluation failed, treating as unmatched")
			continue
		}
		if ok, _ := result.(bool); ok {
			score += f.weight
			matched = append(matched, f.name)
		}
	}

	qualityRank = -1
	if profile != nil {
		qualityRank = profile.QualityRank(release.Quality)
	}

	return score, matched, qualityRank
}

func buildFormatEnv(release *models.Release) FormatEnv {
	languages := release.Languages
	if languages == nil {
		languages = []string{}
	}

	return FormatEnv{
		Title:        release.Title,
		SourceTitle:  release.SourceTitle,
		Protocol:     string(release.Protocol),
		Indexer:      release.Indexer,
		Size:         release.Size,
		SizeMB:       float64(release.Size) / (1024 * 1024),
		Seeders:      release.Seeders,
		Leechers:     release.Leechers,
		AgeHours:     releaseAgeHours(release),
		Quality:      release.Quality.Name,
		Resolution:   release.Quality.Resolution,
		Source:       release.Quality.Source,
		Proper:       release.Quality.Revision.Version > 1 || release.Quality.Revision.Real,
		Languages:    languages,
		IndexerFlags: release.IndexerFlags,
		Season:       release.MappedSeason,
	}
}

func releaseAgeHours(release *models.Release) float64 {
	if release.PublishDate.IsZero() {
		return 0
	}
	return clockNow().Sub(release.PublishDate).Hours()
}
