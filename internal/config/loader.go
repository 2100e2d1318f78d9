// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration resolution.
type Loader struct {
	// lookupEnv is swappable for tests.
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a new config loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// DefaultConfigPath is where the optional settings file lives.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mimesis", "config.hjson")
}

// Load resolves the effective configuration: defaults, then the optional
// file at path, then the environment. A missing file is not an error; a
// malformed one is.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		fileCfg, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		if fileCfg != nil {
			*cfg = *fileCfg
		}
	}

	l.applyEnv(cfg)
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile parses an hjson settings file. Returns nil when the file does
// not exist.
func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map, then through JSON for type safety.
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays recognized environment variables onto cfg.
func (l *Loader) applyEnv(cfg *Config) {
	if v, ok := l.lookupEnv("ANTHROPIC_API_KEY"); ok {
		cfg.AnthropicAPIKey = v
	}
	if port, ok := l.envInt("MIMESIS_PORT"); ok {
		cfg.StreamPort = port
	} else if port, ok := l.envInt("PORT"); ok {
		cfg.StreamPort = port
	}
	if port, ok := l.envInt("API_PORT"); ok {
		cfg.APIPort = port
	}
	if port, ok := l.envInt("PTY_WS_PORT"); ok {
		cfg.PTYPort = port
	}
	if v, ok := l.lookupEnv("STREAM_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := l.lookupEnv("DB_PATH"); ok {
		cfg.DBPath = v
	}
	if hours, ok := l.envInt("MAX_AGE_HOURS"); ok {
		cfg.MaxAgeHours = hours
	}
	if v, ok := l.lookupEnv("MIMESIS_PROJECTS_DIR"); ok {
		cfg.ProjectsDir = v
	}
	if v, ok := l.lookupEnv("KITTY_SOCKET"); ok {
		cfg.KittySocket = v
	}
	if v, ok := l.lookupEnv("KITTY_RC_PASSWORD"); ok {
		cfg.KittyRCPassword = v
	}
}

func (l *Loader) envInt(name string) (int, bool) {
	v, ok := l.lookupEnv(name)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
