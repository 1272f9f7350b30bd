// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package indexers adapts Torznab and Newznab endpoints into candidate
// sources the search pipeline can fan out to.
package indexers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/moistari/rls"

	"github.com/fetcharr/fetcharr/internal/models"
)

const tvCategory = "5000"

// TorznabClient talks to one Torznab/Newznab endpoint.
type TorznabClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewTorznabClient builds a client for the endpoint. The timeout here is a
// transport-level ceiling; per-search deadlines come from the caller context.
func NewTorznabClient(baseURL, apiKey string, timeout time.Duration) *TorznabClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TorznabClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type torznabItem struct {
	Title     string `xml:"title"`
	GUID      string `xml:"guid"`
	Link      string `xml:"link"`
	Size      string `xml:"size"`
	PubDate   string `xml:"pubDate"`
	Enclosure struct {
		URL string `xml:"url,attr"`
	} `xml:"enclosure"`
	Attrs []torznabAttr `xml:"attr"`
}

type torznabFeed struct {
	Channel struct {
		Items []torznabItem `xml:"item"`
	} `xml:"channel"`
}

// Search runs a tvsearch query and converts the feed into releases. The
// protocol and indexer id are stamped on by the caller, which knows which
// indexer this endpoint belongs to.
func (c *TorznabClient) Search(ctx context.Context, text string, season, episode int) ([]torznabItem, error) {
	endpoint, err := url.Parse(c.baseURL + "/api")
	if err != nil {
		return nil, fmt.Errorf("parse torznab endpoint: %w", err)
	}

	query := endpoint.Query()
	query.Set("t", "tvsearch")
	query.Set("cat", tvCategory)
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}
	if text != "" {
		query.Set("q", text)
	}
	if season > 0 {
		query.Set("season", strconv.Itoa(season))
	}
	if episode > 0 {
		query.Set("ep", strconv.Itoa(episode))
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build torznab request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torznab request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("torznab returned status %d", resp.StatusCode)
	}

	var feed torznabFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode torznab feed: %w", err)
	}

	return feed.Channel.Items, nil
}

// convertItem turns one feed item into a release stamped with the indexer's
// identity. Quality and languages are parsed from the release title since
// most indexers do not report them as attributes.
func convertItem(item torznabItem, indexer *models.Indexer) models.Release {
	release := models.Release{
		GUID:        item.GUID,
		IndexerID:   indexer.ID,
		Protocol:    indexer.Protocol,
		Title:       item.Title,
		SourceTitle: item.Title,
		DownloadURL: item.Enclosure.URL,
	}
	if release.DownloadURL == "" {
		release.DownloadURL = item.Link
	}

	if size, err := strconv.ParseInt(item.Size, 10, 64); err == nil {
		release.Size = size
	}
	if item.PubDate != "" {
		if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			release.PublishDate = t
		} else if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
			release.PublishDate = t
		}
	}

	for _, attr := range item.Attrs {
		switch strings.ToLower(attr.Name) {
		case "seeders":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				release.Seeders = v
			}
		case "peers":
			if v, err := strconv.Atoi(attr.Value); err == nil && v > release.Seeders {
				release.Leechers = v - release.Seeders
			}
		case "infohash":
			release.InfoHash = strings.ToLower(attr.Value)
		case "size":
			if v, err := strconv.ParseInt(attr.Value, 10, 64); err == nil && release.Size == 0 {
				release.Size = v
			}
		}
	}

	release.Quality, release.Languages = qualityFromTitle(item.Title)

	return release
}

func qualityFromTitle(title string) (models.Quality, []string) {
	parsed := rls.ParseString(title)

	quality := models.Quality{
		Resolution: parseResolution(parsed.Resolution),
		Source:     parsed.Source,
	}
	switch {
	case quality.Source != "" && parsed.Resolution != "":
		quality.Name = quality.Source + "-" + parsed.Resolution
	case parsed.Resolution != "":
		quality.Name = parsed.Resolution
	default:
		quality.Name = quality.Source
	}

	quality.Revision.Version = 1
	upper := strings.ToUpper(title)
	if strings.Contains(upper, "PROPER") || strings.Contains(upper, "REPACK") {
		quality.Revision.Version = 2
	}
	if strings.Contains(upper, "REAL.PROPER") || strings.Contains(upper, "REAL PROPER") {
		quality.Revision.Real = true
	}

	languages := make([]string, 0, len(parsed.Language))
	for _, lang := range parsed.Language {
		languages = append(languages, strings.ToLower(lang))
	}
	if len(languages) == 0 {
		languages = []string{"english"}
	}

	return quality, languages
}

// parseResolution turns "1080p" or "2160p" into its vertical pixel count.
func parseResolution(resolution string) int {
	trimmed := strings.TrimRight(strings.ToLower(resolution), "pi")
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return v
}
