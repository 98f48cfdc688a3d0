package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.validate())
}

func TestLoad_OverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"page_size":2048,"page_cache_len":64},"merge":{"concurrency":4}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Storage.PageSize)
	assert.Equal(t, 4, cfg.Merge.Concurrency)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultConfig().WAL.BufferSize, cfg.WAL.BufferSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidPageSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"page_size":0}}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
