// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the daemon and CLI.
type Config struct {
	// Store
	DBPath        string
	EncryptionKey string // base64, 32 bytes decoded

	// Polling
	DefaultPollInterval time.Duration

	// Proton API / HTTP session
	ProtonBaseURL  string
	AppVersion     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	InsecureHTTP   bool // test-only override of the HTTPS-only policy

	// Notifier / dedupe
	RedisURL string

	// Daemon
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Store struct {
		Path          string `yaml:"path"`
		EncryptionKey string `yaml:"encryption_key"`
	} `yaml:"store"`
	Polling struct {
		DefaultInterval string `yaml:"default_interval"`
	} `yaml:"polling"`
	Proton struct {
		BaseURL        string `yaml:"base_url"`
		AppVersion     string `yaml:"app_version"`
		ConnectTimeout string `yaml:"connect_timeout"`
		RequestTimeout string `yaml:"request_timeout"`
		InsecureHTTP   bool   `yaml:"insecure_http"`
	} `yaml:"proton"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Port int `yaml:"port"`
}

// Load reads configuration from CONFIG_PATH (with env var expansion) and
// overlays environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/etc/yhmail/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DBPath:              firstNonEmpty(raw.Store.Path, envOrDefault("YHM_DB_PATH", "./yhmail.db")),
		EncryptionKey:       firstNonEmpty(raw.Store.EncryptionKey, envOrDefault("YHM_DB_KEY", "")),
		DefaultPollInterval: parseDurationOrDefault(firstNonEmpty(raw.Polling.DefaultInterval, os.Getenv("YHM_POLL_INTERVAL")), 300*time.Second),
		ProtonBaseURL:       firstNonEmpty(raw.Proton.BaseURL, envOrDefault("YHM_PROTON_BASE_URL", "https://mail.proton.me/api/")),
		AppVersion:          firstNonEmpty(raw.Proton.AppVersion, envOrDefault("YHM_APP_VERSION", "yhmail@1.0.0")),
		ConnectTimeout:      parseDurationOrDefault(firstNonEmpty(raw.Proton.ConnectTimeout, os.Getenv("YHM_CONNECT_TIMEOUT")), 10*time.Second),
		RequestTimeout:      parseDurationOrDefault(firstNonEmpty(raw.Proton.RequestTimeout, os.Getenv("YHM_REQUEST_TIMEOUT")), 30*time.Second),
		InsecureHTTP:        raw.Proton.InsecureHTTP,
		RedisURL:            firstNonEmpty(raw.Redis.URL, envOrDefault("YHM_REDIS_URL", "")),
		Port:                envOrDefaultInt("YHM_PORT", raw.Port),
	}

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("no encryption key configured — set store.encryption_key or YHM_DB_KEY")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fallback == 0 {
		return 8080
	}
	return fallback
}

func parseDurationOrDefault(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
