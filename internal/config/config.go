// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration with FETCHARR__* environment
// overrides and watches it for runtime changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fetcharr/fetcharr/internal/logger"
)

// DownloadClientConfig holds the qBittorrent connection settings.
type DownloadClientConfig struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Category string `mapstructure:"category"`

	// Seed criteria passed through on torrent dispatch; zero disables.
	SeedRatio       float64 `mapstructure:"seedRatio"`
	SeedTimeMinutes int     `mapstructure:"seedTimeMinutes"`
}

// Config is the full application configuration.
type Config struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	LogLevel     string `mapstructure:"logLevel"`
	LogPath      string `mapstructure:"logPath"`
	LogMaxSize   int    `mapstructure:"logMaxSize"`
	LogMaxBackup int    `mapstructure:"logMaxBackups"`
	DatabasePath string `mapstructure:"databasePath"`

	// Decision pipeline tuning.
	EvalWorkers         int      `mapstructure:"evalWorkers"`
	MaxDownloadFailures int      `mapstructure:"maxDownloadFailures"`
	DisabledProtocols   []string `mapstructure:"disabledProtocols"`
	RankTieBreakers     []string `mapstructure:"rankTieBreakers"`

	// Grab and queue behavior.
	ProposalTTLMinutes    int  `mapstructure:"proposalTtlMinutes"`
	MaxTransientRetries   int  `mapstructure:"maxTransientRetries"`
	QueueRefreshSeconds   int  `mapstructure:"queueRefreshSeconds"`
	AutoBlocklistFailures bool `mapstructure:"autoBlocklistFailures"`

	DownloadClient DownloadClientConfig `mapstructure:"downloadClient"`
}

// AppConfig wraps the parsed config and the viper instance watching it.
type AppConfig struct {
	Config *Config
	viper  *viper.Viper
}

// New loads the configuration. configPath may be a file, a directory, or
// empty; with an empty path the default location is used and a default
// config file is written on first run.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &Config{},
		viper:  viper.New(),
	}

	c.defaults()
	c.viper.SetConfigType("toml")

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	if c.Config.DatabasePath == "" {
		c.Config.DatabasePath = filepath.Join(filepath.Dir(c.viper.ConfigFileUsed()), "fetcharr.db")
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "127.0.0.1")
	c.viper.SetDefault("port", 7878)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("evalWorkers", 4)
	c.viper.SetDefault("maxDownloadFailures", 3)
	c.viper.SetDefault("rankTieBreakers", []string{"seeders", "age"})
	c.viper.SetDefault("proposalTtlMinutes", 10)
	c.viper.SetDefault("maxTransientRetries", 3)
	c.viper.SetDefault("queueRefreshSeconds", 60)
	c.viper.SetDefault("autoBlocklistFailures", false)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetEnvPrefix("FETCHARR")
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	c.viper.AutomaticEnv()

	switch {
	case configPath == "":
		dir, err := defaultConfigDir()
		if err != nil {
			return err
		}
		configPath = filepath.Join(dir, "config.toml")
	case isDir(configPath):
		configPath = filepath.Join(configPath, "config.toml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}
	}

	c.viper.SetConfigFile(configPath)
	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}
	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	return nil
}

// Watch re-reads the config on change. Only the log level applies at
// runtime; everything else needs a restart.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(_ fsnotify.Event) {
		previous := c.Config.LogLevel
		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload config")
			return
		}
		if c.Config.LogLevel != previous {
			logger.SetLogLevel(c.Config.LogLevel)
			log.Info().Str("logLevel", c.Config.LogLevel).Msg("Log level updated")
		}
	})
	c.viper.WatchConfig()
}

func defaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "fetcharr"), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	content := `# fetcharr configuration

host = "127.0.0.1"
port = 7878

# TRACE, DEBUG, INFO, WARN, ERROR
logLevel = "INFO"

# Decision pipeline
evalWorkers = 4
maxDownloadFailures = 3
rankTieBreakers = ["seeders", "age"]

# Grab and queue
proposalTtlMinutes = 10
maxTransientRetries = 3
queueRefreshSeconds = 60
autoBlocklistFailures = false

[downloadClient]
host = "http://localhost:8080"
username = "admin"
password = ""
category = "fetcharr"
`

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	log.Info().Str("path", path).Msg("Wrote default config file")
	return nil
}
