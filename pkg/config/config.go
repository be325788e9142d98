// Package config loads marvin settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Defaults.
const (
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultCacheTTL     = 28 * 24 * time.Hour
	DefaultWorkers      = 8
	DefaultOutputFormat = FormatTable
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Validation errors.
var (
	ErrInvalidWorkers     = errors.New("review.workers must not be negative")
	ErrInvalidFormat      = errors.New("output.format must be one of table, json, yaml")
	ErrInvalidCacheTTL    = errors.New("cache.ttl must not be negative")
	ErrInvalidHTTPTimeout = errors.New("github.http_timeout must not be negative")
	ErrRelativeCacheDir   = errors.New("cache.dir must be an absolute path")
)

// Config is the top-level configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	GitHub  GitHubConfig  `mapstructure:"github"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Review  ReviewConfig  `mapstructure:"review"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// GitHubConfig holds API credentials. An empty token falls back to
// GITHUB_TOKEN and then `gh auth token`.
type GitHubConfig struct {
	Token       string        `mapstructure:"token"`
	AppID       string        `mapstructure:"app_id"`
	AppKeyPath  string        `mapstructure:"app_key_path"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	UseAppAuth  bool          `mapstructure:"use_app_auth"`
}

// CacheConfig controls the persistent blame cache.
type CacheConfig struct {
	Dir     string        `mapstructure:"dir"`
	TTL     time.Duration `mapstructure:"ttl"`
	Enabled bool          `mapstructure:"enabled"`
}

// ReviewConfig tunes reviewer selection.
type ReviewConfig struct {
	Exclude  []string `mapstructure:"exclude"`
	Workers  int      `mapstructure:"workers"`
	SkipBots bool     `mapstructure:"skip_bots"`
}

// WatchConfig configures the pull request event stream.
type WatchConfig struct {
	Orgs      []string `mapstructure:"orgs"`
	ServerURL string   `mapstructure:"server_url"`
	Assign    bool     `mapstructure:"assign"`
}

// OutputConfig selects the rendering of results.
type OutputConfig struct {
	Format      string `mapstructure:"format"`
	ShowChanges bool   `mapstructure:"show_changes"`
}

// MetricsConfig configures the metrics listener. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Review.Workers < 0 {
		return ErrInvalidWorkers
	}
	if !slices.Contains([]string{FormatTable, FormatJSON, FormatYAML}, c.Output.Format) {
		return fmt.Errorf("%w, got %q", ErrInvalidFormat, c.Output.Format)
	}
	if c.Cache.TTL < 0 {
		return ErrInvalidCacheTTL
	}
	if c.GitHub.HTTPTimeout < 0 {
		return ErrInvalidHTTPTimeout
	}
	if c.Cache.Dir != "" && !filepath.IsAbs(c.Cache.Dir) {
		return ErrRelativeCacheDir
	}
	return nil
}

// CacheDir returns the configured cache directory or the user cache default.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return filepath.Join(base, "marvin"), nil
}
