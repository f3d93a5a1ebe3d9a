package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "eventstore", cfg.Store.Name)
	assert.Equal(t, "archive", cfg.Store.ArchiveDirectory)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 1000, cfg.Archiver.BatchSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EVENTSTORE_ENVIRONMENT", "production")
	t.Setenv("EVENTSTORE_STORE_NAME", "orders_store")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "orders_store", cfg.Store.Name)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
store:
  name: billing
  archive_directory: /var/lib/eventstore/archive
  default_retention: cold_archivable
  retention:
    audit: full_history
    sessions: hard_deletable
archiver:
  interval: 5m
  batch_size: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.Store.Name)
	assert.Equal(t, "/var/lib/eventstore/archive", cfg.Store.ArchiveDirectory)
	assert.Equal(t, 5*time.Minute, cfg.Archiver.Interval)
	assert.Equal(t, 500, cfg.Archiver.BatchSize)

	policies, err := cfg.Store.RetentionPolicies()
	require.NoError(t, err)
	assert.Equal(t, event.RetentionFullHistory, policies.Resolve("audit"))
	assert.Equal(t, event.RetentionHardDeletable, policies.Resolve("sessions"))
	assert.Equal(t, event.RetentionColdArchivable, policies.Resolve("anything_else"))
}

func TestLoad_InvalidStoreName(t *testing.T) {
	t.Setenv("EVENTSTORE_STORE_NAME", "bad-name!")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_InvalidRetentionMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
store:
  retention:
    orders: freeze_dry
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
