package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the agent configuration, read from a YAML file with env overrides.
type Config struct {
	Env         string           `yaml:"env" env:"DEPLOYTIME_ENV" env-default:"local"`
	StoragePath string           `yaml:"storage_path" env:"DEPLOYTIME_STORAGE_PATH" env-default:"deploytime.db"`
	Log         LogConfig        `yaml:"log"`
	Backend     BackendConfig    `yaml:"backend"`
	Sync        SyncConfig       `yaml:"sync"`
	Inactivity  InactivityConfig `yaml:"inactivity"`
	Server      ServerConfig     `yaml:"server"`
	Tray        TrayConfig       `yaml:"tray"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"DEPLOYTIME_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"DEPLOYTIME_LOG_FORMAT" env-default:"json"`
}

type BackendConfig struct {
	BaseURL      string `yaml:"base_url" env:"DEPLOYTIME_BACKEND_URL" env-default:"http://localhost:8000/api"`
	DashboardURL string `yaml:"dashboard_url" env:"DEPLOYTIME_DASHBOARD_URL" env-default:"http://localhost:8000/admin"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout" env:"DEPLOYTIME_BACKEND_TIMEOUT" env-default:"15"`
}

type SyncConfig struct {
	Interval    time.Duration `yaml:"interval" env:"DEPLOYTIME_SYNC_INTERVAL" env-default:"10m"`
	SyncOnStart bool          `yaml:"sync_on_start" env:"DEPLOYTIME_SYNC_ON_START" env-default:"true"`
	// HistoryDays bounds how far back time entries are pulled each cycle.
	HistoryDays int `yaml:"history_days" env:"DEPLOYTIME_SYNC_HISTORY_DAYS" env-default:"30"`
}

type InactivityConfig struct {
	Enabled      bool          `yaml:"enabled" env:"DEPLOYTIME_INACTIVITY_ENABLED" env-default:"true"`
	Threshold    time.Duration `yaml:"threshold" env:"DEPLOYTIME_INACTIVITY_THRESHOLD" env-default:"10m"`
	PollInterval time.Duration `yaml:"poll_interval" env:"DEPLOYTIME_INACTIVITY_POLL" env-default:"60s"`
}

type ServerConfig struct {
	Enabled bool `yaml:"enabled" env:"DEPLOYTIME_IPC_ENABLED" env-default:"true"`
	Port    int  `yaml:"port" env:"DEPLOYTIME_IPC_PORT" env-default:"8787"`
}

type TrayConfig struct {
	Enabled bool `yaml:"enabled" env:"DEPLOYTIME_TRAY_ENABLED" env-default:"false"`
}

// LoadConfig reads the YAML file at path. A missing file falls back to
// environment variables and defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return &cfg, nil
}

// RequestTimeout returns the backend timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.Backend.Timeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Backend.Timeout) * time.Second
}
