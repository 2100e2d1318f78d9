// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
)

// Validate checks the resolved configuration. Failures here are
// configuration errors: the daemon reports them and exits 1.
func Validate(cfg *Config) error {
	if cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	ports := map[string]int{
		"stream": cfg.StreamPort,
		"api":    cfg.APIPort,
		"pty":    cfg.PTYPort,
	}
	seen := make(map[int]string, len(ports))
	for name, port := range ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s port %d out of range", name, port)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s port %d collides with %s port", name, port, other)
		}
		seen[port] = name
	}

	if cfg.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if len(cfg.CommanderCLI) == 0 {
		return fmt.Errorf("commander cli is required")
	}
	return nil
}
