// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderWithEnv(env map[string]string) *Loader {
	return &Loader{lookupEnv: func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}}
}

func TestLoadDefaults(t *testing.T) {
	l := loaderWithEnv(map[string]string{"ANTHROPIC_API_KEY": "sk-test"})

	cfg, err := l.Load("")
	require.NoError(t, err)

	assert.Equal(t, 4450, cfg.StreamPort)
	assert.Equal(t, 4451, cfg.APIPort)
	assert.Equal(t, 4452, cfg.PTYPort)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 24, cfg.MaxAgeHours)
	assert.Equal(t, []string{"claude"}, cfg.CommanderCLI)
	assert.Contains(t, cfg.DBPath, filepath.Join(".mimesis", "data.db"))
	assert.Contains(t, cfg.ProjectsDir, filepath.Join(".claude", "projects"))
}

func TestMissingAPIKeyFails(t *testing.T) {
	l := loaderWithEnv(map[string]string{})

	_, err := l.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments are fine in hjson
		stream_port: 5000
		api_port: 5001
		db_path: /tmp/file.db
	}`), 0644))

	l := loaderWithEnv(map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"MIMESIS_PORT":      "6000",
	})
	cfg, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.StreamPort)
	assert.Equal(t, 5001, cfg.APIPort)
	assert.Equal(t, "/tmp/file.db", cfg.DBPath)
}

func TestPortFallbackOrder(t *testing.T) {
	l := loaderWithEnv(map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"PORT":              "7000",
	})
	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.StreamPort)

	// MIMESIS_PORT wins over PORT.
	l = loaderWithEnv(map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"PORT":              "7000",
		"MIMESIS_PORT":      "7100",
	})
	cfg, err = l.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.StreamPort)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	l := loaderWithEnv(map[string]string{"ANTHROPIC_API_KEY": "sk-test"})
	_, err := l.Load(filepath.Join(t.TempDir(), "absent.hjson"))
	assert.NoError(t, err)
}

func TestMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{unclosed"), 0644))

	l := loaderWithEnv(map[string]string{"ANTHROPIC_API_KEY": "sk-test"})
	_, err := l.Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsPortCollisions(t *testing.T) {
	l := loaderWithEnv(map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"API_PORT":          "4450",
	})
	_, err := l.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestValidateRejectsBadPort(t *testing.T) {
	l := loaderWithEnv(map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"API_PORT":          "70000",
	})
	_, err := l.Load("")
	assert.Error(t, err)
}
