// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config resolves daemon settings from the environment, with an
// optional ~/.mimesis/config.hjson underneath. Environment wins.
package config

import (
	"os"
	"path/filepath"
)

// Config holds every recognized daemon setting.
type Config struct {
	// AnthropicAPIKey is required; the daemon refuses to start without it.
	AnthropicAPIKey string `json:"anthropic_api_key"`

	// StreamPort serves the main WebSocket gateway.
	StreamPort int `json:"stream_port"`
	// APIPort serves the HTTP API.
	APIPort int `json:"api_port"`
	// PTYPort serves the PTY WebSocket endpoint.
	PTYPort int `json:"pty_ws_port"`
	// Host is the bind address for all three listeners.
	Host string `json:"host"`

	// DBPath is the SQLite file location.
	DBPath string `json:"db_path"`
	// StreamsDir holds opaque stream data.
	StreamsDir string `json:"streams_dir"`

	// ProjectsDir is the transcript tree the watcher scans.
	ProjectsDir string `json:"projects_dir"`
	// MaxAgeHours filters out transcripts older than this at startup.
	// Negative disables the filter.
	MaxAgeHours int `json:"max_age_hours"`

	// CommanderCLI is the supervisor AI command.
	CommanderCLI []string `json:"commander_cli"`
	// CommanderCWD is where the supervisor runs. Defaults to the home
	// directory.
	CommanderCWD string `json:"commander_cwd"`
	// CommanderModel is recorded on the conversation.
	CommanderModel string `json:"commander_model"`

	// Kitty integration, external to the core daemon.
	KittySocket     string `json:"kitty_socket"`
	KittyRCPassword string `json:"kitty_rc_password"`
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()

	if cfg.StreamPort == 0 {
		cfg.StreamPort = 4450
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 4451
	}
	if cfg.PTYPort == 0 {
		cfg.PTYPort = 4452
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(home, ".mimesis", "data.db")
	}
	if cfg.StreamsDir == "" {
		cfg.StreamsDir = filepath.Join(home, ".mimesis", "streams")
	}
	if cfg.ProjectsDir == "" {
		cfg.ProjectsDir = filepath.Join(home, ".claude", "projects")
	}
	if cfg.MaxAgeHours == 0 {
		cfg.MaxAgeHours = 24
	}
	if len(cfg.CommanderCLI) == 0 {
		cfg.CommanderCLI = []string{"claude"}
	}
	if cfg.CommanderCWD == "" {
		cfg.CommanderCWD = home
	}
}
