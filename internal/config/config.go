// Package config loads the static bot configuration. Runtime-mutable state
// (authorized users, send delay) lives in internal/settings, not here.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Settings SettingsConfig `json:"settings"`
	Audit    AuditConfig    `json:"audit"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	// Token is normally left empty here and supplied via the BOT_TOKEN
	// environment variable.
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"` // duration string, default 10s
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type SettingsConfig struct {
	Path  string `json:"path,omitempty"`
	Watch bool   `json:"watch"`
}

type AuditConfig struct {
	// Driver: "file", "sqlite", or ""/"none" to disable auditing.
	Driver     string `json:"driver,omitempty"`
	Path       string `json:"path,omitempty"`
	RetainDays int    `json:"retain_days,omitempty"`
}

type OpsConfig struct {
	// Addr enables the health/metrics HTTP listener when non-empty,
	// e.g. "127.0.0.1:8087".
	Addr string `json:"addr,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Settings: SettingsConfig{Path: "./data/settings.json", Watch: true},
		Audit:    AuditConfig{Driver: "file", Path: "./data/audit.jsonl", RetainDays: 30},
	}
}

// Load reads a YAML or JSON config file. A missing file is not an error:
// defaults are returned so the bot can run on BOT_TOKEN alone.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	jb := b
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		if jb, err = yamlToJSON(b); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both config formats
// share the strict decoder in Load. yaml/v3 decodes mappings with string
// keys, so the value marshals to JSON directly.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return j, nil
}
