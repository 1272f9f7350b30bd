// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fetcharr/fetcharr/internal/api"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/fetcharr/fetcharr/internal/decision"
	"github.com/fetcharr/fetcharr/internal/grab"
	"github.com/fetcharr/fetcharr/internal/indexers"
	"github.com/fetcharr/fetcharr/internal/logger"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/queue"
)

func RunServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file or directory")

	return cmd
}

func serve(configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}

	logger.Setup(cfg.Config.LogLevel, cfg.Config.LogPath, cfg.Config.LogMaxSize, cfg.Config.LogMaxBackup)
	cfg.Watch()

	log.Info().Str("version", version).Msg("Starting fetcharr")

	db, err := database.New(cfg.Config.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	seriesStore := models.NewSeriesStore(db)
	indexerStore := models.NewIndexerStore(db)
	profileStore := models.NewQualityProfileStore(db)
	formatStore := models.NewCustomFormatStore(db)
	blocklistStore := models.NewBlocklistStore(db)
	historyStore := models.NewHistoryStore(db)
	queueStore := models.NewQueueStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := grab.NewQbitClient(ctx, grab.QbitConfig{
		Host:     cfg.Config.DownloadClient.Host,
		Username: cfg.Config.DownloadClient.Username,
		Password: cfg.Config.DownloadClient.Password,
		Category: cfg.Config.DownloadClient.Category,
	})
	if err != nil {
		return err
	}

	disabledProtocols := make([]models.Protocol, 0, len(cfg.Config.DisabledProtocols))
	for _, protocol := range cfg.Config.DisabledProtocols {
		disabledProtocols = append(disabledProtocols, models.Protocol(protocol))
	}

	pipeline := decision.NewPipeline(
		indexers.NewProvider(indexerStore),
		indexerStore,
		seriesStore,
		profileStore,
		formatStore,
		blocklistStore,
		historyStore,
		decision.PipelineOptions{
			EvalWorkers:       int64(cfg.Config.EvalWorkers),
			MaxFailures:       cfg.Config.MaxDownloadFailures,
			DisabledProtocols: disabledProtocols,
			RankPolicy:        decision.ParseRankPolicy(cfg.Config.RankTieBreakers),
		},
	)

	var seed *grab.SeedCriteria
	if cfg.Config.DownloadClient.SeedRatio > 0 || cfg.Config.DownloadClient.SeedTimeMinutes > 0 {
		seed = &grab.SeedCriteria{
			Ratio:           cfg.Config.DownloadClient.SeedRatio,
			SeedTimeMinutes: cfg.Config.DownloadClient.SeedTimeMinutes,
		}
	}

	dispatcher := grab.NewDispatcher(client, historyStore, queueStore, seriesStore, grab.Options{
		ProposalTTL:         time.Duration(cfg.Config.ProposalTTLMinutes) * time.Minute,
		MaxTransientRetries: cfg.Config.MaxTransientRetries,
		Seed:                seed,
	})

	metricsManager := metrics.NewManager()

	tracker := queue.NewTracker(client, queueStore, historyStore, blocklistStore, seriesStore, queue.Options{
		Interval:              time.Duration(cfg.Config.QueueRefreshSeconds) * time.Second,
		AutoBlocklistFailures: cfg.Config.AutoBlocklistFailures,
		Metrics:               metricsManager,
	})
	go tracker.Run(ctx)

	server := api.NewServer(&api.Dependencies{
		SeriesStore:    seriesStore,
		IndexerStore:   indexerStore,
		ProfileStore:   profileStore,
		FormatStore:    formatStore,
		BlocklistStore: blocklistStore,
		HistoryStore:   historyStore,
		QueueStore:     queueStore,
		Pipeline:       pipeline,
		Dispatcher:     dispatcher,
		Reconciler:     tracker,
		Metrics:        metricsManager,
	})

	return server.Serve(ctx, cfg.Config.Host, cfg.Config.Port)
}
