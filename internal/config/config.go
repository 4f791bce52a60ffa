// Package config loads service configuration from an optional YAML file with
// environment variable overrides on top.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen                  string `yaml:"listen"`
	WorkingDirectory        string `yaml:"working_directory"`
	RedisURL                string `yaml:"redis_url"`
	SessionTTLSec           int    `yaml:"session_ttl_sec"`
	ClearExpiredIntervalSec int    `yaml:"clear_expired_interval_sec"`
	InstanceKey             string `yaml:"instance_key"`

	// MetaStore selects the metadata backend: "redis" (default) or
	// "sqlite". With sqlite the server runs self-contained: compile jobs
	// and the sweep run in-process instead of on the Redis queue.
	MetaStore string `yaml:"metastore"`
	DBPath    string `yaml:"db_path"`

	CompileTimeoutSec int    `yaml:"compile_timeout_sec"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`
	LogLevel          string `yaml:"log_level"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:                  "127.0.0.1:8080",
		WorkingDirectory:        "/working",
		RedisURL:                "redis://:@localhost:6379/0",
		SessionTTLSec:           300,
		ClearExpiredIntervalSec: 60,
		InstanceKey:             "latex-compile-service",
		MetaStore:               "redis",
		DBPath:                  "./setzkasten.db",
		CompileTimeoutSec:       180,
		WorkerConcurrency:       2,
		LogLevel:                "info",
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SETZKASTEN_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("WORKING_DIRECTORY"); v != "" {
		cfg.WorkingDirectory = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("SESSION_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLSec = n
		}
	}
	if v := os.Getenv("CLEAR_EXPIRED_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClearExpiredIntervalSec = n
		}
	}
	if v := os.Getenv("INSTANCE_KEY"); v != "" {
		cfg.InstanceKey = v
	}
	if v := os.Getenv("SETZKASTEN_METASTORE"); v != "" {
		cfg.MetaStore = v
	}
	if v := os.Getenv("SETZKASTEN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SETZKASTEN_COMPILE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompileTimeoutSec = n
		}
	}
	if v := os.Getenv("SETZKASTEN_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("SETZKASTEN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
