package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	PoolSize       int    `json:"pool_size"`
	MapConcurrency int    `json:"map_concurrency"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		PoolSize: 10,
	}
}

func statelyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stately"
	}
	return filepath.Join(home, ".stately")
}

func settingsPath() string {
	return filepath.Join(statelyDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STATELY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STATELY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STATELY_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("STATELY_MAP_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MapConcurrency = n
		}
	}

	return cfg
}
