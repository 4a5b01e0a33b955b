// Package config loads pokestats settings from defaults, an optional YAML file
// and POKESTATS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/analysis"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/client"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/logging"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/retrieval"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POKESTATS_"

// Store backends.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as "250ms" or "10s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StoreConfig selects where the catalog and percentiles are written.
type StoreConfig struct {
	Backend string `yaml:"backend"`

	// Dir holds the CSV files, and the default SQLite database.
	Dir string `yaml:"dir"`

	// SQLitePath overrides <dir>/pokestats.db.
	SQLitePath string `yaml:"sqlite_path"`

	// ParquetPath enables a Parquet snapshot of the percentiles when set.
	ParquetPath string `yaml:"parquet_path"`
}

// LogConfig mirrors logging.Config for the file format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the full pokestats configuration.
type Config struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`

	MaxID             int      `yaml:"max_id"`
	ConcurrencyLimit  int      `yaml:"concurrency_limit"`
	RetryAttempts     int      `yaml:"retry_attempts"`
	InitialBackoff    Duration `yaml:"initial_backoff"`
	MaxBackoff        Duration `yaml:"max_backoff"`
	PerRequestTimeout Duration `yaml:"per_request_timeout"`
	TotalDeadline     Duration `yaml:"total_deadline"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// RedisAddr enables the response cache when set.
	RedisAddr string   `yaml:"redis_addr"`
	CacheTTL  Duration `yaml:"cache_ttl"`

	// PercentileKind is mean (default), strict, weak or rank.
	PercentileKind string `yaml:"percentile_kind"`
	HTTPAddr       string `yaml:"http_addr"`

	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	retry := retrieval.DefaultRetryConfig()
	rc := retrieval.DefaultConfig()
	return Config{
		BaseURL:           client.DefaultBaseURL,
		UserAgent:         "pokestats/0.1.0",
		MaxID:             898,
		ConcurrencyLimit:  rc.MaxConcurrency,
		RetryAttempts:     retry.MaxAttempts,
		InitialBackoff:    Duration(retry.InitialBackoff),
		MaxBackoff:        Duration(retry.MaxBackoff),
		PerRequestTimeout: Duration(rc.Timeout),
		RequestsPerSecond: 50,
		Burst:             20,
		CacheTTL:          Duration(24 * time.Hour),
		PercentileKind:    string(analysis.KindMean),
		HTTPAddr:          ":8080",
		Store: StoreConfig{
			Backend: BackendCSV,
			Dir:     "data",
		},
		Log: LogConfig{Level: string(logging.LevelInfo)},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.UserAgent = getEnv("USER_AGENT", c.UserAgent)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.PercentileKind = getEnv("PERCENTILE_KIND", c.PercentileKind)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.Dir = getEnv("STORE_DIR", c.Store.Dir)
	c.Store.SQLitePath = getEnv("STORE_SQLITE_PATH", c.Store.SQLitePath)
	c.Store.ParquetPath = getEnv("STORE_PARQUET_PATH", c.Store.ParquetPath)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	var errs []error
	setInt := func(key string, dst *int) {
		if v := getEnv(key, ""); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v := getEnv(key, ""); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	setInt("MAX_ID", &c.MaxID)
	setInt("CONCURRENCY_LIMIT", &c.ConcurrencyLimit)
	setInt("RETRY_ATTEMPTS", &c.RetryAttempts)
	setInt("BURST", &c.Burst)
	setDuration("INITIAL_BACKOFF", &c.InitialBackoff)
	setDuration("MAX_BACKOFF", &c.MaxBackoff)
	setDuration("PER_REQUEST_TIMEOUT", &c.PerRequestTimeout)
	setDuration("TOTAL_DEADLINE", &c.TotalDeadline)
	setDuration("CACHE_TTL", &c.CacheTTL)

	if v := getEnv("REQUESTS_PER_SECOND", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUESTS_PER_SECOND: %w", EnvPrefix, err))
		} else {
			c.RequestsPerSecond = f
		}
	}
	if v := getEnv("LOG_PRETTY", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_PRETTY: %w", EnvPrefix, err))
		} else {
			c.Log.Pretty = b
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	u, err := url.Parse(c.BaseURL)
	check(err == nil && u.Scheme != "" && u.Host != "", "base_url %q is not an absolute URL", c.BaseURL)
	check(strings.TrimSpace(c.UserAgent) != "", "user_agent is required")
	check(c.MaxID >= 1, "max_id must be at least 1, got %d", c.MaxID)
	check(c.ConcurrencyLimit >= 1, "concurrency_limit must be at least 1, got %d", c.ConcurrencyLimit)
	check(c.RetryAttempts >= 1, "retry_attempts must be at least 1, got %d", c.RetryAttempts)
	check(c.InitialBackoff >= 0, "initial_backoff must not be negative")
	check(c.MaxBackoff >= c.InitialBackoff, "max_backoff must be at least initial_backoff")
	check(c.PerRequestTimeout > 0, "per_request_timeout must be positive")
	check(c.TotalDeadline >= 0, "total_deadline must not be negative")
	check(c.RequestsPerSecond >= 0, "requests_per_second must not be negative")
	check(c.Burst >= 0, "burst must not be negative")
	check(c.CacheTTL >= 0, "cache_ttl must not be negative")

	if _, err := analysis.ParseKind(c.PercentileKind); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Backend {
	case BackendCSV, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendCSV, BackendSQLite, c.Store.Backend))
	}
	check(c.Store.Dir != "" || (c.Store.Backend == BackendSQLite && c.Store.SQLitePath != ""),
		"store.dir is required")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Kind returns the configured percentile kind.
func (c Config) Kind() analysis.Kind {
	k, _ := analysis.ParseKind(c.PercentileKind)
	return k
}

// SQLiteFile returns the database path for the sqlite backend.
func (c Config) SQLiteFile() string {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.Store.Dir, "pokestats.db")
}

// ClientConfig builds the fetcher configuration. rdb may be nil.
func (c Config) ClientConfig(rdb *redis.Client) client.Config {
	cc := client.DefaultConfig(c.UserAgent)
	cc.BaseURL = c.BaseURL
	cc.Redis = rdb
	cc.CacheTTL = c.CacheTTL.Std()
	cc.RequestsPerSecond = c.RequestsPerSecond
	cc.Burst = c.Burst
	cc.MaxIdleConnsPerHost = c.ConcurrencyLimit
	return cc
}

// RetrievalConfig builds the retriever configuration.
func (c Config) RetrievalConfig() retrieval.Config {
	rc := retrieval.DefaultConfig()
	rc.MaxConcurrency = c.ConcurrencyLimit
	rc.Timeout = c.PerRequestTimeout.Std()
	rc.TotalDeadline = c.TotalDeadline.Std()
	rc.Retry.MaxAttempts = c.RetryAttempts
	rc.Retry.InitialBackoff = c.InitialBackoff.Std()
	rc.Retry.MaxBackoff = c.MaxBackoff.Std()
	return rc
}

// LoggingConfig builds the logger configuration writing to stderr.
func (c Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(c.Log.Level)
	lc.Pretty = c.Log.Pretty
	return lc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}
