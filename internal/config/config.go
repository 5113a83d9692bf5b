package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the verifier
type Config struct {
	Compiler CompilerConfig `toml:"compiler" yaml:"compiler"`
	Driver   DriverConfig   `toml:"driver" yaml:"driver"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
	Status   StatusConfig   `toml:"status" yaml:"status"`
}

// CompilerConfig holds compiler provisioning and invocation settings
type CompilerConfig struct {
	CacheDir        string `toml:"cache_dir" yaml:"cache_dir"`
	SolcHost        string `toml:"solc_host" yaml:"solc_host"`
	VyperHost       string `toml:"vyper_host" yaml:"vyper_host"`
	BackoffMillis   int    `toml:"backoff_millis" yaml:"backoff_millis"`
	Retries         int    `toml:"retries" yaml:"retries"`
	ForceScript     bool   `toml:"force_script" yaml:"force_script"`
	MaxOutputMiB    int    `toml:"max_output_mib" yaml:"max_output_mib"`
	ScriptCacheSize int    `toml:"script_cache_size" yaml:"script_cache_size"`
}

// DriverConfig holds batch verification driver settings
type DriverConfig struct {
	Endpoint         string        `toml:"endpoint" yaml:"endpoint"`
	ChainID          string        `toml:"chain_id" yaml:"chain_id"`
	BatchSize        int           `toml:"batch_size" yaml:"batch_size"`
	ColdStart        int           `toml:"cold_start" yaml:"cold_start"`
	GrowthFactor     float64       `toml:"growth_factor" yaml:"growth_factor"`
	MaxConcurrency   int           `toml:"max_concurrency" yaml:"max_concurrency"`
	WaitInterval     time.Duration `toml:"wait_interval" yaml:"wait_interval"`
	PrefetchPoll     time.Duration `toml:"prefetch_poll" yaml:"prefetch_poll"`
	Limit            int           `toml:"limit" yaml:"limit"` // 0 = unlimited
	GracePeriod      time.Duration `toml:"grace_period" yaml:"grace_period"`
	StartAfter       int64         `toml:"start_after" yaml:"start_after"`
	SubmitRatePerSec float64       `toml:"submit_rate_per_sec" yaml:"submit_rate_per_sec"` // 0 = unlimited
	RequestTimeout   time.Duration `toml:"request_timeout" yaml:"request_timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string         `toml:"type" yaml:"type"` // "sqlite" or "postgres"
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string `toml:"url" yaml:"url"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "text", "json" or "auto"
}

// StatusConfig holds the driver's status server settings
type StatusConfig struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	Host           string   `toml:"host" yaml:"host"`
	Port           int      `toml:"port" yaml:"port"`
	MetricsEnabled bool     `toml:"metrics_enabled" yaml:"metrics_enabled"`
	// APIKeys guard POST /recompile. The route is not served without one.
	APIKeys        []string `toml:"api_keys" yaml:"api_keys"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Compiler: CompilerConfig{
			CacheDir:        defaultCacheDir(),
			SolcHost:        "https://binaries.soliditylang.org",
			VyperHost:       "https://github.com/vyperlang/vyper/releases/download",
			BackoffMillis:   10000,
			Retries:         4,
			MaxOutputMiB:    250,
			ScriptCacheSize: 8,
		},
		Driver: DriverConfig{
			BatchSize:      50,
			ColdStart:      3,
			GrowthFactor:   1.2,
			MaxConcurrency: 64,
			WaitInterval:   500 * time.Millisecond,
			PrefetchPoll:   100 * time.Millisecond,
			GracePeriod:    30 * time.Second,
			RequestTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "./data/solcverify.db"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Status: StatusConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           8080,
			MetricsEnabled: true,
		},
	}
}

// Load builds the configuration. Values come from the built-in defaults,
// then the file at path when one is given (.toml, .yaml or .yml), then
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && os.Getenv("STORAGE_TYPE") == "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type %q (want .toml, .yaml or .yml)", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) {
	c := &cfg.Compiler
	c.CacheDir = getEnv("SOLC_CACHE_DIR", c.CacheDir)
	c.SolcHost = getEnv("SOLC_REPO", c.SolcHost)
	c.VyperHost = getEnv("VYPER_REPO", c.VyperHost)
	c.BackoffMillis = getEnvInt("SOLC_BACKOFF_MILLIS", c.BackoffMillis)
	c.Retries = getEnvInt("SOLC_RETRIES", c.Retries)
	c.ForceScript = getEnvBool("SOLC_FORCE_SCRIPT", c.ForceScript)
	c.MaxOutputMiB = getEnvInt("SOLC_MAX_OUTPUT_MIB", c.MaxOutputMiB)
	c.ScriptCacheSize = getEnvInt("SOLC_SCRIPT_CACHE_SIZE", c.ScriptCacheSize)

	d := &cfg.Driver
	d.Endpoint = getEnv("VERIFY_ENDPOINT", d.Endpoint)
	d.ChainID = getEnv("CHAIN_ID", d.ChainID)
	d.BatchSize = getEnvInt("DRIVER_BATCH_SIZE", d.BatchSize)
	d.ColdStart = getEnvInt("DRIVER_COLD_START", d.ColdStart)
	d.GrowthFactor = getEnvFloat("DRIVER_GROWTH_FACTOR", d.GrowthFactor)
	d.MaxConcurrency = getEnvInt("DRIVER_MAX_CONCURRENCY", d.MaxConcurrency)
	d.WaitInterval = getEnvDuration("DRIVER_WAIT_INTERVAL", d.WaitInterval)
	d.PrefetchPoll = getEnvDuration("DRIVER_PREFETCH_POLL", d.PrefetchPoll)
	d.Limit = getEnvInt("DRIVER_LIMIT", d.Limit)
	d.GracePeriod = getEnvDuration("DRIVER_GRACE_PERIOD", d.GracePeriod)
	d.StartAfter = getEnvInt64("DRIVER_START_AFTER", d.StartAfter)
	d.SubmitRatePerSec = getEnvFloat("DRIVER_SUBMIT_RATE", d.SubmitRatePerSec)
	d.RequestTimeout = getEnvDuration("DRIVER_REQUEST_TIMEOUT", d.RequestTimeout)

	s := &cfg.Storage
	s.Type = getEnv("STORAGE_TYPE", s.Type)
	s.Postgres.URL = getEnv("DATABASE_URL", s.Postgres.URL)
	s.SQLite.Path = getEnv("SQLITE_PATH", s.SQLite.Path)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	st := &cfg.Status
	st.Enabled = getEnvBool("STATUS_ENABLED", st.Enabled)
	st.Host = getEnv("HOST", st.Host)
	st.Port = getEnvInt("PORT", st.Port)
	st.MetricsEnabled = getEnvBool("METRICS_ENABLED", st.MetricsEnabled)
	st.APIKeys = getEnvList("STATUS_API_KEYS", st.APIKeys)
}

// Validate rejects settings the driver and compilers cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Compiler.CacheDir == "" {
		errs = append(errs, errors.New("compiler cache directory is required"))
	}
	if c.Compiler.BackoffMillis <= 0 {
		errs = append(errs, errors.New("compiler backoff must be positive"))
	}
	if c.Compiler.Retries < 0 {
		errs = append(errs, errors.New("compiler retries must not be negative"))
	}
	if c.Driver.BatchSize < 1 {
		errs = append(errs, errors.New("driver batch size must be at least 1"))
	}
	if c.Driver.ColdStart < 1 {
		errs = append(errs, errors.New("driver cold start must be at least 1"))
	}
	if c.Driver.MaxConcurrency < c.Driver.ColdStart {
		errs = append(errs, fmt.Errorf("driver max concurrency %d is below cold start %d", c.Driver.MaxConcurrency, c.Driver.ColdStart))
	}
	if c.Driver.GrowthFactor < 1 {
		errs = append(errs, errors.New("driver growth factor must be at least 1"))
	}
	if c.Driver.Limit < 0 {
		errs = append(errs, errors.New("driver limit must not be negative"))
	}
	switch c.Storage.Type {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	return errors.Join(errs...)
}

// BackoffInitial returns the first fetch attempt's timeout.
func (c CompilerConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

// MaxOutputBytes returns the native compiler output cap.
func (c CompilerConfig) MaxOutputBytes() int64 {
	return int64(c.MaxOutputMiB) << 20
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "solcverify")
	}
	return filepath.Join(os.TempDir(), "solcverify")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
