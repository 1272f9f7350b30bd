// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"strconv"
	"strings"
	"time"
)

// Protocol identifies the transfer protocol a release is served over.
type Protocol string

const (
	ProtocolUsenet  Protocol = "usenet"
	ProtocolTorrent Protocol = "torrent"
)

// QualityRevision distinguishes re-releases of the same quality (PROPER, REPACK).
type QualityRevision struct {
	Version int  `json:"version"`
	Real    bool `json:"real"`
}

// Quality is the parsed format of a release plus its revision.
type Quality struct {
	Name       string          `json:"name"`
	Resolution int             `json:"resolution"`
	Source     string          `json:"source"`
	Revision   QualityRevision `json:"revision"`
}

// Release is one candidate download produced by an indexer. It is immutable
// once produced; decision metadata lives on AnnotatedRelease.
type Release struct {
	GUID         string    `json:"guid"`
	IndexerID    int       `json:"indexerId"`
	Indexer      string    `json:"indexer"`
	Protocol     Protocol  `json:"protocol"`
	InfoHash     string    `json:"infoHash,omitempty"`
	Title        string    `json:"title"`
	SourceTitle  string    `json:"sourceTitle"`
	Size         int64     `json:"size"`
	PublishDate  time.Time `json:"publishDate"`
	Seeders      int       `json:"seeders,omitempty"`
	Leechers     int       `json:"leechers,omitempty"`
	Quality      Quality   `json:"quality"`
	Languages    []string  `json:"languages"`
	IndexerFlags uint32    `json:"indexerFlags"`
	DownloadURL  string    `json:"downloadUrl"`

	// Numbers exactly as parsed from the release title.
	ParsedSeason   int   `json:"parsedSeason"`
	ParsedEpisodes []int `json:"parsedEpisodes"`

	// Numbers after scene-to-canonical mapping. Zero SeriesID means the
	// mapping could not be resolved and a grab needs explicit confirmation.
	SeriesID       int   `json:"seriesId"`
	MappedSeason   int   `json:"mappedSeason"`
	MappedEpisodes []int `json:"mappedEpisodes"`

	// RuntimeMinutes of the mapped content, when known. Used for
	// size-per-minute comparisons.
	RuntimeMinutes int `json:"runtimeMinutes,omitempty"`
}

// Age returns how long ago the release was published.
func (r *Release) Age(now time.Time) time.Duration {
	if r.PublishDate.IsZero() {
		return 0
	}
	return now.Sub(r.PublishDate)
}

// MappingResolved reports whether the indexer-parsed numbering was confidently
// mapped to a known series/season/episode.
func (r *Release) MappingResolved() bool {
	return r.SeriesID > 0 && len(r.MappedEpisodes) > 0
}

// BlocklistKey computes the identity key used for blocklist matching:
// usenet keys on (protocol, indexer, source title); torrent keys on the
// infohash when present and falls back to (indexer, source title).
func (r *Release) BlocklistKey() string {
	if r.Protocol == ProtocolTorrent && r.InfoHash != "" {
		return "torrent:" + strings.ToLower(strings.TrimSpace(r.InfoHash))
	}
	return strings.Join([]string{string(r.Protocol), strconv.Itoa(r.IndexerID), normalizeSourceTitle(r.SourceTitle)}, ":")
}

// RejectionReason is the closed set of causes a rule can reject a release for.
type RejectionReason string

const (
	RejectionProtocolDisabled  RejectionReason = "protocolDisabled"
	RejectionIndexerDisabled   RejectionReason = "indexerDisabled"
	RejectionQualityNotWanted  RejectionReason = "qualityNotWanted"
	RejectionLanguageNotWanted RejectionReason = "languageNotWanted"
	RejectionSizeOutOfRange    RejectionReason = "sizeOutOfRange"
	RejectionFormatScoreTooLow RejectionReason = "formatScoreTooLow"
	RejectionNotAnUpgrade      RejectionReason = "notAnUpgrade"
	RejectionBlocklisted       RejectionReason = "blocklisted"
	RejectionRepeatedFailures  RejectionReason = "repeatedFailures"
	RejectionEvaluationError   RejectionReason = "evaluationError"
)

// Rejection pairs a reason with human-readable detail for the inspect surface.
type Rejection struct {
	Reason RejectionReason `json:"reason"`
	Detail string          `json:"detail"`
}

// Decision is the outcome of running a release through the specification
// chain. Accepted decisions carry no rejections; rejected ones carry at least
// one, and in inspect mode every independently failing rule.
type Decision struct {
	Accepted   bool        `json:"accepted"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Reject builds a rejected decision from one or more rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Accepted: false, Rejections: rejections}
}

// Accept builds an accepted decision.
func Accept() Decision {
	return Decision{Accepted: true}
}

// AnnotatedRelease wraps a Release with the metadata the decision pipeline
// attaches: score, rank, matched formats, and the decision itself.
type AnnotatedRelease struct {
	Release

	CustomFormatScore int         `json:"customFormatScore"`
	QualityRank       int         `json:"qualityRank"`
	MatchedFormats    []string    `json:"matchedFormats,omitempty"`
	Rejections        []Rejection `json:"rejections,omitempty"`
	IsBlocklisted     bool        `json:"isBlocklisted"`
	DownloadAllowed   bool        `json:"downloadAllowed"`
}

// Accepted reports whether no rule rejected the release.
func (a *AnnotatedRelease) Accepted() bool {
	return len(a.Rejections) == 0
}

func normalizeSourceTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
