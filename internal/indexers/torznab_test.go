// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <item>
      <title>Show.S01E01.1080p.WEB-DL.x264-GRP</title>
      <guid>https://indexer.example/details/1</guid>
      <link>https://indexer.example/fallback/1</link>
      <size>2147483648</size>
      <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
      <enclosure url="https://indexer.example/dl/1.torrent" length="2147483648" type="application/x-bittorrent"/>
      <torznab:attr name="seeders" value="42"/>
      <torznab:attr name="peers" value="50"/>
      <torznab:attr name="infohash" value="ABCDEF0123456789"/>
    </item>
    <item>
      <title>Show.S01E02.720p.HDTV.x264-GRP</title>
      <guid>https://indexer.example/details/2</guid>
      <link>https://indexer.example/fallback/2</link>
      <torznab:attr name="size" value="734003200"/>
    </item>
  </channel>
</rss>`

func TestSearchQueriesAndParsesFeed(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	client := NewTorznabClient(server.URL, "secret", 5*time.Second)
	items, err := client.Search(context.Background(), "Show", 1, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "tvsearch", query.Get("t"))
	assert.Equal(t, "5000", query.Get("cat"))
	assert.Equal(t, "secret", query.Get("apikey"))
	assert.Equal(t, "Show", query.Get("q"))
	assert.Equal(t, "1", query.Get("season"))
	assert.Equal(t, "1", query.Get("ep"))
}

func TestSearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewTorznabClient(server.URL, "wrong", 5*time.Second)
	_, err := client.Search(context.Background(), "Show", 0, 0)
	assert.Error(t, err)
}

func TestConvertItemStampsIndexerIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	client := NewTorznabClient(server.URL, "", 5*time.Second)
	items, err := client.Search(context.Background(), "Show", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	indexer := &models.Indexer{ID: 7, Name: "example", Protocol: models.ProtocolTorrent}

	first := convertItem(items[0], indexer)
	assert.Equal(t, "https://indexer.example/details/1", first.GUID)
	assert.Equal(t, 7, first.IndexerID)
	assert.Equal(t, models.ProtocolTorrent, first.Protocol)
	assert.Equal(t, "https://indexer.example/dl/1.torrent", first.DownloadURL)
	assert.Equal(t, int64(2147483648), first.Size)
	assert.Equal(t, 42, first.Seeders)
	assert.Equal(t, 8, first.Leechers)
	assert.Equal(t, "abcdef0123456789", first.InfoHash)
	assert.Equal(t, 2006, first.PublishDate.Year())
	assert.Equal(t, 1080, first.Quality.Resolution)

	// no enclosure: the link is the download url; size comes from the attr
	second := convertItem(items[1], indexer)
	assert.Equal(t, "https://indexer.example/fallback/2", second.DownloadURL)
	assert.Equal(t, int64(734003200), second.Size)
	assert.Equal(t, 720, second.Quality.Resolution)
}

func TestQualityFromTitle(t *testing.T) {
	quality, languages := qualityFromTitle("Show.S01E01.1080p.WEB-DL.x264-GRP")
	assert.Equal(t, 1080, quality.Resolution)
	assert.Equal(t, 1, quality.Revision.Version)
	assert.False(t, quality.Revision.Real)
	assert.Equal(t, []string{"english"}, languages)

	quality, _ = qualityFromTitle("Show.S01E01.720p.HDTV.PROPER.x264-GRP")
	assert.Equal(t, 720, quality.Resolution)
	assert.Equal(t, 2, quality.Revision.Version)

	quality, _ = qualityFromTitle("Show.S01E01.REAL.PROPER.720p.HDTV.x264-GRP")
	assert.Equal(t, 2, quality.Revision.Version)
	assert.True(t, quality.Revision.Real)
}

func TestParseResolution(t *testing.T) {
	assert.Equal(t, 1080, parseResolution("1080p"))
	assert.Equal(t, 2160, parseResolution("2160p"))
	assert.Equal(t, 1080, parseResolution("1080i"))
	assert.Zero(t, parseResolution(""))
	assert.Zero(t, parseResolution("4k"))
}
