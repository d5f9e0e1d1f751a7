// Package config provides configuration management for serf.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	// GitHubToken authenticates commit status, gist and ref listing calls.
	GitHubToken string

	// DefaultSHA is the commit to build when --sha is not given (SERF_SHA1).
	DefaultSHA string

	// CacheDir overrides the location of the shared bare repository cache.
	CacheDir string

	// Debug enables debug logging.
	Debug bool

	// RedpandaBrokers enables event publishing to Redpanda when non-empty.
	RedpandaBrokers []string

	// PostgresDSN enables the Postgres build record store when set.
	PostgresDSN string

	// RedisAddr enables the Redis snapshot cache for the ref server when set.
	RedisAddr string

	// ArtifactBucket selects S3 artifact uploads instead of gists when set.
	ArtifactBucket string

	// ArtifactBaseURL is the public prefix of artifact links; empty means the
	// bucket's S3 endpoint.
	ArtifactBaseURL string

	// ListenAddr is the address the ref server binds to.
	ListenAddr string
}

// LoadFromEnv loads configuration from environment variables.
// Nothing is mandatory here; commands validate what they need.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		DefaultSHA:      os.Getenv("SERF_SHA1"),
		CacheDir:        os.Getenv("SERF_CACHE_DIR"),
		Debug:           parseBool(os.Getenv("SERF_DEBUG")),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		ArtifactBucket:  os.Getenv("SERF_ARTIFACT_BUCKET"),
		ArtifactBaseURL: os.Getenv("SERF_ARTIFACT_BASE_URL"),
		ListenAddr:      os.Getenv("SERF_LISTEN_ADDR"),
	}

	if brokers := os.Getenv("REDPANDA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.RedpandaBrokers = append(cfg.RedpandaBrokers, b)
			}
		}
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	return cfg, nil
}

// RepoCacheDir returns the directory holding bare repository clones.
func (c *Config) RepoCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(AppDir(), "repos")
}

// AppDir returns the per-platform application directory for serf.
func AppDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "serf")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "serf")
	default:
		return filepath.Join(os.Getenv("HOME"), ".config", "serf")
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
