package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all flowline daemon configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	PollSeconds     int    `json:"poll_seconds"`
	ScheduleSeconds int    `json:"schedule_seconds"`
	BatchSize       int    `json:"batch_size"`
	AutomationURL   string `json:"automation_url"`
	VaultPassphrase string `json:"vault_passphrase"`
	VaultSalt       string `json:"vault_salt"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(flowlineDir(), "flowline.db"),
		LogLevel:        "info",
		PollSeconds:     5,
		ScheduleSeconds: 60,
		BatchSize:       10,
	}
}

func flowlineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowline"
	}
	return filepath.Join(home, ".flowline")
}

func settingsPath() string {
	return filepath.Join(flowlineDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWLINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWLINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWLINE_POLL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollSeconds = n
		}
	}
	if v := os.Getenv("FLOWLINE_SCHEDULE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScheduleSeconds = n
		}
	}
	if v := os.Getenv("FLOWLINE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("FLOWLINE_AUTOMATION_URL"); v != "" {
		cfg.AutomationURL = v
	}
	if v := os.Getenv("FLOWLINE_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("FLOWLINE_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}

	return cfg
}

// dsn turns a plain file path into the file: URI the libSQL driver expects.
func (c Config) dsn() string {
	if strings.Contains(c.DBPath, ":") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}
