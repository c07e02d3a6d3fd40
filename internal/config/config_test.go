package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()
	assert.Equal(t, 16, cfg.ArchiveCache.MaxOpen)
	assert.Equal(t, 300, cfg.ArchiveCache.TTLSeconds)
	assert.Equal(t, 1000, cfg.S3Cache.MaxEntries)
	assert.Equal(t, 60, cfg.S3Cache.TTLSeconds)
	assert.Empty(t, cfg.SSHHosts)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, NewDefault(), cfg)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tfm.yaml")
	yamlContent := `
ssh_hosts:
  build-box:
    user: ubuntu
    port: "2222"
    key_file: /home/ubuntu/.ssh/id_ed25519
s3:
  region: us-west-2
  endpoint: https://minio.example.com
  force_path_style: true
archive_cache:
  max_open: 32
  ttl_seconds: 600
s3_cache:
  max_entries: 5000
  ttl_seconds: 120
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Contains(t, cfg.SSHHosts, "build-box")
	host := cfg.SSHHosts["build-box"]
	assert.Equal(t, "ubuntu", host.User)
	assert.Equal(t, "2222", host.Port)
	assert.Equal(t, "/home/ubuntu/.ssh/id_ed25519", host.KeyFile)

	assert.Equal(t, "us-west-2", cfg.S3.Region)
	assert.Equal(t, "https://minio.example.com", cfg.S3.Endpoint)
	assert.True(t, cfg.S3.ForcePathStyle)

	assert.Equal(t, 32, cfg.ArchiveCache.MaxOpen)
	assert.Equal(t, 600, cfg.ArchiveCache.TTLSeconds)
	assert.Equal(t, 5000, cfg.S3Cache.MaxEntries)
	assert.Equal(t, 120, cfg.S3Cache.TTLSeconds)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tfm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsMissingKeyFile(t *testing.T) {
	cfg := NewDefault()
	cfg.SSHHosts["host-a"] = SSHHostConfig{User: "root"}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "key_file")
}

func TestValidateRejectsNegativeTTL(t *testing.T) {
	cfg := NewDefault()
	cfg.ArchiveCache.TTLSeconds = -1
	assert.Error(t, cfg.Validate())
}

func TestTTLHelpers(t *testing.T) {
	cfg := NewDefault()
	assert.Equal(t, 300e9, float64(cfg.ArchiveCacheTTL()))
	assert.Equal(t, 60e9, float64(cfg.S3CacheTTL()))
}
