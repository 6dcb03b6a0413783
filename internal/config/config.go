// Package config loads engine settings from defaults, an optional YAML file,
// a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

const (
	configPathEnv          = "ISRCFINDER_CONFIG"
	spotifyClientIDEnv     = "SPOTIFY_CLIENT_ID"
	spotifyClientSecretEnv = "SPOTIFY_CLIENT_SECRET"
	youtubeAPIKeyEnv       = "YOUTUBE_API_KEY"
	geniusAPIKeyEnv        = "GENIUS_API_KEY"
	lastfmAPIKeyEnv        = "LASTFM_API_KEY"
	discogsTokenEnv        = "DISCOGS_USER_TOKEN"
	databasePathEnv        = "DATABASE_PATH"
	logLevelEnv            = "LOG_LEVEL"
	logFormatEnv           = "LOG_FORMAT"
	batchWorkersEnv        = "ISRCFINDER_BATCH_WORKERS"
	cacheTTLEnv            = "ISRCFINDER_CACHE_TTL"
)

// Config holds every setting the engine and CLI need.
type Config struct {
	LogLevel    string                             `yaml:"logLevel"`
	LogFormat   string                             `yaml:"logFormat"`
	UserAgent   string                             `yaml:"userAgent"`
	Database    DatabaseConfig                     `yaml:"database"`
	Cache       CacheConfig                        `yaml:"cache"`
	Aggregation AggregationConfig                  `yaml:"aggregation"`
	Batch       BatchConfig                        `yaml:"batch"`
	Providers   map[models.Provider]ProviderConfig `yaml:"providers"`
}

// DatabaseConfig points at the sqlite file. An empty path disables persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// AggregationConfig bounds one aggregation run end to end.
type AggregationConfig struct {
	QuickDeadline         time.Duration `yaml:"quickDeadline"`
	ComprehensiveDeadline time.Duration `yaml:"comprehensiveDeadline"`
}

type BatchConfig struct {
	Workers  int           `yaml:"workers"`
	Deadline time.Duration `yaml:"deadline"`
}

// ProviderConfig carries the credentials and limits of one provider. Which
// credential fields matter depends on the provider.
type ProviderConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	TokenURL          string        `yaml:"tokenUrl"`
	APIKey            string        `yaml:"apiKey"`
	ClientID          string        `yaml:"clientId"`
	ClientSecret      string        `yaml:"clientSecret"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        *int          `yaml:"maxRetries"`
}

// Retries returns the configured retry bound.
func (p ProviderConfig) Retries() int {
	if p.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *p.MaxRetries
}

// Configured reports whether the provider has the credentials it needs.
// MusicBrainz needs none.
func (c Config) Configured(p models.Provider) bool {
	pc := c.Providers[p]
	switch p {
	case models.MusicBrainz:
		return true
	case models.Spotify:
		return pc.ClientID != "" && pc.ClientSecret != ""
	default:
		return pc.APIKey != ""
	}
}

// Deadline returns the aggregation deadline for opts.
func (c Config) Deadline(opts models.Options) time.Duration {
	if opts.Comprehensive {
		return c.Aggregation.ComprehensiveDeadline
	}
	return c.Aggregation.QuickDeadline
}

const (
	defaultMaxRetries = 3
	defaultTimeout    = 8 * time.Second
)

var defaultRequestsPerMinute = map[models.Provider]int{
	models.Spotify:     180,
	models.MusicBrainz: 50,
	models.YouTube:     50,
	models.Genius:      100,
	models.LastFM:      60,
	models.Discogs:     60,
}

// Default returns the built-in settings.
func Default() Config {
	providers := make(map[models.Provider]ProviderConfig, len(models.AllProviders))
	for _, p := range models.AllProviders {
		providers[p] = ProviderConfig{
			RequestsPerMinute: defaultRequestsPerMinute[p],
			Timeout:           defaultTimeout,
		}
	}
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Database:    DatabaseConfig{Path: "isrc_meta.db"},
		Cache:       CacheConfig{TTL: 24 * time.Hour},
		Aggregation: AggregationConfig{QuickDeadline: 12 * time.Second, ComprehensiveDeadline: 30 * time.Second},
		Batch:       BatchConfig{Workers: 4, Deadline: 30 * time.Minute},
		Providers:   providers,
	}
}

// Load reads .env (if present), then the YAML file at path (falling back to
// ISRCFINDER_CONFIG when path is empty), then applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, apperrors.Wrap(apperrors.ErrConfiguration, "config", "load .env", "", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile parses a YAML config file without applying defaults.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrConfiguration, "config", "read", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrConfiguration, "config", "parse", path, err)
	}
	for p := range cfg.Providers {
		if !knownProvider(p) {
			return Config{}, apperrors.Wrap(apperrors.ErrConfiguration, "config", "parse", fmt.Sprintf("unknown provider %q", p), nil)
		}
	}
	return cfg, nil
}

// Validate checks ranges and returns an ErrConfiguration error listing every problem.
func (c Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logLevel %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.Cache.TTL <= 0 {
		problems = append(problems, "cache.ttl must be positive")
	}
	if c.Aggregation.QuickDeadline <= 0 || c.Aggregation.ComprehensiveDeadline <= 0 {
		problems = append(problems, "aggregation deadlines must be positive")
	}
	if c.Batch.Workers < 1 {
		problems = append(problems, "batch.workers must be at least 1")
	}
	if c.Batch.Deadline < 0 {
		problems = append(problems, "batch.deadline must not be negative")
	}
	for _, p := range models.AllProviders {
		pc := c.Providers[p]
		if pc.RequestsPerMinute <= 0 {
			problems = append(problems, fmt.Sprintf("%s.requestsPerMinute must be positive", p))
		}
		if pc.Timeout <= 0 {
			problems = append(problems, fmt.Sprintf("%s.timeout must be positive", p))
		}
		if pc.Retries() < 0 {
			problems = append(problems, fmt.Sprintf("%s.maxRetries must not be negative", p))
		}
		if p == models.Spotify && (pc.ClientID == "") != (pc.ClientSecret == "") {
			problems = append(problems, "spotify needs both a client id and a client secret")
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrConfiguration, "config", "validate", strings.Join(problems, "; "), nil)
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	c.setProvider(models.Spotify, func(pc *ProviderConfig) {
		if v := os.Getenv(spotifyClientIDEnv); v != "" {
			pc.ClientID = v
		}
		if v := os.Getenv(spotifyClientSecretEnv); v != "" {
			pc.ClientSecret = v
		}
	})
	for p, env := range map[models.Provider]string{
		models.YouTube: youtubeAPIKeyEnv,
		models.Genius:  geniusAPIKeyEnv,
		models.LastFM:  lastfmAPIKeyEnv,
		models.Discogs: discogsTokenEnv,
	} {
		if v := os.Getenv(env); v != "" {
			c.setProvider(p, func(pc *ProviderConfig) { pc.APIKey = v })
		}
	}

	if v := os.Getenv(batchWorkersEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfiguration, "config", "env", batchWorkersEnv, err)
		}
		c.Batch.Workers = n
	}
	if v := os.Getenv(cacheTTLEnv); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfiguration, "config", "env", cacheTTLEnv, err)
		}
		c.Cache.TTL = d
	}
	return nil
}

func (c *Config) setProvider(p models.Provider, fn func(*ProviderConfig)) {
	if c.Providers == nil {
		c.Providers = map[models.Provider]ProviderConfig{}
	}
	pc := c.Providers[p]
	fn(&pc)
	c.Providers[p] = pc
}

func merge(base, override Config) Config {
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		base.LogFormat = override.LogFormat
	}
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	if override.Database.Path != "" {
		base.Database.Path = override.Database.Path
	}
	if override.Cache.TTL != 0 {
		base.Cache.TTL = override.Cache.TTL
	}
	if override.Aggregation.QuickDeadline != 0 {
		base.Aggregation.QuickDeadline = override.Aggregation.QuickDeadline
	}
	if override.Aggregation.ComprehensiveDeadline != 0 {
		base.Aggregation.ComprehensiveDeadline = override.Aggregation.ComprehensiveDeadline
	}
	if override.Batch.Workers != 0 {
		base.Batch.Workers = override.Batch.Workers
	}
	if override.Batch.Deadline != 0 {
		base.Batch.Deadline = override.Batch.Deadline
	}

	for p, o := range override.Providers {
		base.setProvider(p, func(pc *ProviderConfig) {
			if o.BaseURL != "" {
				pc.BaseURL = o.BaseURL
			}
			if o.TokenURL != "" {
				pc.TokenURL = o.TokenURL
			}
			if o.APIKey != "" {
				pc.APIKey = o.APIKey
			}
			if o.ClientID != "" {
				pc.ClientID = o.ClientID
			}
			if o.ClientSecret != "" {
				pc.ClientSecret = o.ClientSecret
			}
			if o.RequestsPerMinute != 0 {
				pc.RequestsPerMinute = o.RequestsPerMinute
			}
			if o.Timeout != 0 {
				pc.Timeout = o.Timeout
			}
			if o.MaxRetries != nil {
				pc.MaxRetries = o.MaxRetries
			}
		})
	}
	return base
}

func knownProvider(p models.Provider) bool {
	return slices.Contains(models.AllProviders, p)
}
