// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/fetcharr/fetcharr/internal/models"
)

// QbitConfig holds the connection settings for a qBittorrent instance.
type QbitConfig struct {
	Host     string
	Username string
	Password string
	Category string
}

// QbitClient adapts a qBittorrent instance to the DownloadClient contract.
// Jobs are identified by info hash, which qBittorrent uses as its torrent key.
type QbitClient struct {
	client   *qbt.Client
	category string
}

// NewQbitClient connects and authenticates against the instance.
func NewQbitClient(ctx context.Context, cfg QbitConfig) (*QbitClient, error) {
	client := qbt.NewClient(qbt.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  30,
	})

	loginCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := client.LoginCtx(loginCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	log.Debug().Str("host", cfg.Host).Msg("qBittorrent client created successfully")

	return &QbitClient{client: client, category: cfg.Category}, nil
}

// Submit adds the release by its download URL. Releases the instance cannot
// carry (wrong protocol, no info hash) are definitive rejections; transport
// errors are transient so the dispatcher may retry them.
func (c *QbitClient) Submit(ctx context.Context, release *models.Release, seed *SeedCriteria) (*DispatchResult, error) {
	if release.Protocol != models.ProtocolTorrent {
		return &DispatchResult{
			Status: DispatchRejectedByClient,
			Reason: fmt.Sprintf("qBittorrent cannot handle %s releases", release.Protocol),
		}, nil
	}
	if release.InfoHash == "" {
		return &DispatchResult{
			Status: DispatchRejectedByClient,
			Reason: "release has no info hash to track the job by",
		}, nil
	}
	if release.DownloadURL == "" {
		return &DispatchResult{
			Status: DispatchRejectedByClient,
			Reason: "release has no download url",
		}, nil
	}

	options := map[string]string{}
	if c.category != "" {
		options["category"] = c.category
	}
	if seed != nil {
		if seed.Ratio > 0 {
			options["ratioLimit"] = strconv.FormatFloat(seed.Ratio, 'f', -1, 64)
		}
		if seed.SeedTimeMinutes > 0 {
			options["seedingTimeLimit"] = strconv.Itoa(seed.SeedTimeMinutes)
		}
	}

	if err := c.client.AddTorrentFromUrlCtx(ctx, release.DownloadURL, options); err != nil {
		return &DispatchResult{
			Status: DispatchTransientFailure,
			Reason: err.Error(),
		}, nil
	}

	return &DispatchResult{
		Status:      DispatchAccepted,
		ClientJobID: strings.ToLower(release.InfoHash),
	}, nil
}

// PollStatus maps the torrent state onto the queue state machine. A torrent
// the instance no longer knows counts as removed.
func (c *QbitClient) PollStatus(ctx context.Context, clientJobID string) (models.QueueState, error) {
	torrents, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Hashes: []string{clientJobID},
	})
	if err != nil {
		return "", fmt.Errorf("poll torrent %s: %w", clientJobID, err)
	}
	if len(torrents) == 0 {
		return models.QueueStateRemoved, nil
	}

	return queueStateFor(torrents[0].State), nil
}

func queueStateFor(state qbt.TorrentState) models.QueueState {
	switch state {
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return models.QueueStateFailed
	case qbt.TorrentStateUploading, qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp,
		qbt.TorrentStateStalledUp, qbt.TorrentStateQueuedUp, qbt.TorrentStateForcedUp,
		qbt.TorrentStateCheckingUp:
		return models.QueueStateCompleted
	default:
		return models.QueueStateDownloading
	}
}
