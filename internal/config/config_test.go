package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/packrat/internal/config"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "packrat")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.Compression)
	assert.Empty(t, cfg.Defaults.Exclude)
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	writeConfig(t, dir, `
[defaults]
compression = "zstd"
chunk_size = "64KiB"
verify = true
strict = false
bwlimit = "100MB"
follow_symlinks = false
exclude = ["*.tmp", ".git/"]
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	d := cfg.Defaults
	require.NotNil(t, d.Compression)
	assert.Equal(t, "zstd", *d.Compression)

	require.NotNil(t, d.ChunkSize)
	assert.Equal(t, "64KiB", *d.ChunkSize)

	require.NotNil(t, d.Verify)
	assert.True(t, *d.Verify)

	require.NotNil(t, d.Strict)
	assert.False(t, *d.Strict)

	require.NotNil(t, d.BWLimit)
	assert.Equal(t, "100MB", *d.BWLimit)

	require.NotNil(t, d.FollowSymlinks)
	assert.False(t, *d.FollowSymlinks)

	assert.Equal(t, []string{"*.tmp", ".git/"}, d.Exclude)
}

func TestLoad_PartialConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	writeConfig(t, dir, `
[defaults]
strict = true
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Strict)
	assert.True(t, *cfg.Defaults.Strict)

	// Unset fields should remain nil.
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.BWLimit)
	assert.Nil(t, cfg.Defaults.FollowSymlinks)
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	writeConfig(t, dir, "invalid [[[")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Config{}, cfg)
}

func TestPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, filepath.Join("/custom/config", "packrat", "config.toml"), config.Path())
}
