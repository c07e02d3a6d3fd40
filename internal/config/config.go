// Package config loads tfm's YAML configuration file: SSH host profiles,
// S3 endpoint/region overrides, and cache tuning knobs for ArchiveCache and
// S3Cache. Shaped after objectfs's internal/config package (same
// gopkg.in/yaml.v2 load/validate pattern), trimmed to tfm's own settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// SSHHostConfig is one named entry under ssh_hosts in tfm.yaml.
type SSHHostConfig struct {
	User    string `yaml:"user"`
	Port    string `yaml:"port"`
	KeyFile string `yaml:"key_file"`
}

// S3Config overrides the default AWS SDK region/endpoint resolution, for
// S3-compatible stores (MinIO, etc.) and region pinning.
type S3Config struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// ArchiveCacheConfig tunes the archivefs.Cache of opened Handlers.
type ArchiveCacheConfig struct {
	MaxOpen    int `yaml:"max_open"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// S3CacheConfig tunes the s3cache.Cache of listing/HeadObject responses.
type S3CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// Config is the root of tfm.yaml.
type Config struct {
	SSHHosts     map[string]SSHHostConfig `yaml:"ssh_hosts"`
	S3           S3Config                 `yaml:"s3"`
	ArchiveCache ArchiveCacheConfig       `yaml:"archive_cache"`
	S3Cache      S3CacheConfig            `yaml:"s3_cache"`
}

// NewDefault returns the Config used when no tfm.yaml exists, so a missing
// tfm.yaml behaves identically to an explicit one with these settings. The
// sizes and the S3 TTL equal the caches' own zero-value fallbacks; the
// archive TTL is 300s, whereas archivefs.NewCache treats ttl 0 as never
// expiring.
func NewDefault() *Config {
	return &Config{
		SSHHosts: map[string]SSHHostConfig{},
		ArchiveCache: ArchiveCacheConfig{
			MaxOpen:    16,
			TTLSeconds: 300,
		},
		S3Cache: S3CacheConfig{
			MaxEntries: 1000,
			TTLSeconds: 60,
		},
	}
}

// Load reads and parses a tfm.yaml file. A missing file is not an error:
// Load returns NewDefault() unchanged so tfm runs with sane defaults
// before a user has written any config.
func Load(path string) (*Config, error) {
	cfg := NewDefault()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would otherwise surface as confusing
// zero-value behavior deep inside the cache constructors.
func (c *Config) Validate() error {
	if c.ArchiveCache.MaxOpen < 0 {
		return fmt.Errorf("archive_cache.max_open must be >= 0")
	}
	if c.ArchiveCache.TTLSeconds < 0 {
		return fmt.Errorf("archive_cache.ttl_seconds must be >= 0")
	}
	if c.S3Cache.MaxEntries < 0 {
		return fmt.Errorf("s3_cache.max_entries must be >= 0")
	}
	if c.S3Cache.TTLSeconds < 0 {
		return fmt.Errorf("s3_cache.ttl_seconds must be >= 0")
	}
	for name, host := range c.SSHHosts {
		if host.KeyFile == "" {
			return fmt.Errorf("ssh_hosts.%s: key_file is required", name)
		}
	}
	return nil
}

// ArchiveCacheTTL returns the configured archive handler TTL as a
// time.Duration, 0 meaning "never expire" (matches archivefs.Cache's own
// ttl<=0 convention).
func (c *Config) ArchiveCacheTTL() time.Duration {
	return time.Duration(c.ArchiveCache.TTLSeconds) * time.Second
}

// S3CacheTTL returns the configured S3Cache entry TTL as a time.Duration.
func (c *Config) S3CacheTTL() time.Duration {
	return time.Duration(c.S3Cache.TTLSeconds) * time.Second
}
