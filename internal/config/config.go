// Package config loads the sync daemon configuration from YAML and the environment.
package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SALESYNC_"

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Remote kinds.
const (
	RemoteREST     = "rest"
	RemotePostgres = "postgres"
	RemoteMemory   = "memory"
)

// Pending update policies.
const (
	PolicyRemoteWins   = "remote-wins"
	PolicyMergePending = "merge-pending"
)

// Duration is a time.Duration written as "30s" or "24h" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full daemon configuration.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Storage StorageConfig `yaml:"storage"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects the local durable key-value backend.
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url,omitempty"`
	// EncryptionKey, when set, seals every stored value with a key derived
	// from it.
	EncryptionKey string `yaml:"encryption_key,omitempty"`
}

// RemoteConfig selects the hosted data backend.
type RemoteConfig struct {
	Kind      string   `yaml:"kind"`
	BaseURL   string   `yaml:"base_url,omitempty"`
	APIKey    string   `yaml:"api_key,omitempty"`
	DSN       string   `yaml:"dsn,omitempty"`
	Timeout   Duration `yaml:"timeout"`
	// RefColumn is the unique backend column holding each create's device
	// identity. Empty disables create deduplication on the backend.
	RefColumn string   `yaml:"ref_column"`
}

// SyncConfig holds the retry, eviction and freshness policy.
type SyncConfig struct {
	Tables              []models.Table `yaml:"tables"`
	MaxAttempts         int            `yaml:"max_attempts"`
	EvictAfter          Duration       `yaml:"evict_after"`
	CacheTTL            Duration       `yaml:"cache_ttl"`
	Interval            Duration       `yaml:"interval"`
	ConnectivityPoll    Duration       `yaml:"connectivity_poll"`
	PendingUpdatePolicy string         `yaml:"pending_update_policy"`
}

// HTTPConfig configures the local UI/trigger surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Storage: StorageConfig{Backend: StorageSQLite},
		Remote: RemoteConfig{
			Kind:      RemoteMemory,
			Timeout:   Duration(10 * time.Second),
			RefColumn: "client_ref",
		},
		Sync: SyncConfig{
			Tables:              models.AllTables(),
			MaxAttempts:         5,
			EvictAfter:          Duration(7 * 24 * time.Hour),
			CacheTTL:            Duration(5 * time.Minute),
			Interval:            Duration(15 * time.Minute),
			ConnectivityPoll:    Duration(30 * time.Second),
			PendingUpdatePolicy: PolicyRemoteWins,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8090"},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (optional, "" skips the file), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of cfg's current values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "failed to parse config", err)
	}
	return nil
}

// ApplyEnv overlays SALESYNC_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, EnvPrefix+name+" is not a duration", err)
		}
		*dst = Duration(d)
		return nil
	}

	str("DATA_DIR", &c.DataDir)
	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("REDIS_URL", &c.Storage.RedisURL)
	str("ENCRYPTION_KEY", &c.Storage.EncryptionKey)
	str("REMOTE_KIND", &c.Remote.Kind)
	str("REMOTE_BASE_URL", &c.Remote.BaseURL)
	str("REMOTE_API_KEY", &c.Remote.APIKey)
	str("REMOTE_DSN", &c.Remote.DSN)
	str("REMOTE_REF_COLUMN", &c.Remote.RefColumn)
	str("PENDING_UPDATE_POLICY", &c.Sync.PendingUpdatePolicy)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	for name, dst := range map[string]*Duration{
		"REMOTE_TIMEOUT":    &c.Remote.Timeout,
		"EVICT_AFTER":       &c.Sync.EvictAfter,
		"CACHE_TTL":         &c.Sync.CacheTTL,
		"SYNC_INTERVAL":     &c.Sync.Interval,
		"CONNECTIVITY_POLL": &c.Sync.ConnectivityPoll,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(EnvPrefix + "MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, EnvPrefix+"MAX_ATTEMPTS is not an integer", err)
		}
		c.Sync.MaxAttempts = n
	}
	if v, ok := lookup(EnvPrefix + "TABLES"); ok && v != "" {
		var tables []models.Table
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tables = append(tables, models.Table(name))
			}
		}
		c.Sync.Tables = tables
	}
	return nil
}

// Validate reports the first invalid setting as CONFIG_INVALID.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageSQLite, StorageFile:
		if c.DataDir == "" {
			return apperrors.Newf(apperrors.ErrConfig, "data_dir is required for the %s backend", c.Storage.Backend)
		}
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return apperrors.New(apperrors.ErrConfig, "storage.redis_url is required for the redis backend")
		}
	case StorageMemory:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Remote.Kind {
	case RemoteREST:
		if c.Remote.BaseURL == "" {
			return apperrors.New(apperrors.ErrConfig, "remote.base_url is required for the rest remote")
		}
	case RemotePostgres:
		if c.Remote.DSN == "" {
			return apperrors.New(apperrors.ErrConfig, "remote.dsn is required for the postgres remote")
		}
	case RemoteMemory:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown remote kind %q", c.Remote.Kind)
	}
	if c.Remote.Timeout <= 0 {
		return apperrors.New(apperrors.ErrConfig, "remote.timeout must be positive")
	}
	if c.Remote.RefColumn != "" && !identPattern.MatchString(c.Remote.RefColumn) {
		return apperrors.Newf(apperrors.ErrConfig, "invalid remote.ref_column %q", c.Remote.RefColumn)
	}

	if len(c.Sync.Tables) == 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.tables must not be empty")
	}
	for _, t := range c.Sync.Tables {
		if !t.IsValid() {
			return apperrors.Newf(apperrors.ErrConfig, "unknown table %q in sync.tables", t)
		}
	}
	if c.Sync.MaxAttempts < 1 {
		return apperrors.New(apperrors.ErrConfig, "sync.max_attempts must be at least 1")
	}
	if c.Sync.EvictAfter <= 0 || c.Sync.CacheTTL <= 0 || c.Sync.Interval <= 0 || c.Sync.ConnectivityPoll <= 0 {
		return apperrors.New(apperrors.ErrConfig, "sync durations must be positive")
	}
	switch c.Sync.PendingUpdatePolicy {
	case PolicyRemoteWins, PolicyMergePending:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown pending_update_policy %q", c.Sync.PendingUpdatePolicy)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown log.format %q", c.Log.Format)
	}
	return nil
}
