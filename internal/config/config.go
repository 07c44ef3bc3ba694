package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines listener ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// TrackingConfig defines the accounting and batching behaviour
type TrackingConfig struct {
	Mode                string `mapstructure:"mode"` // "detailed" or "active_only"
	DebounceWindow      string `mapstructure:"debounce_window"`
	FlushInterval       string `mapstructure:"flush_interval"`
	SafetyFlushInterval string `mapstructure:"safety_flush_interval"` // "0" disables
	MinActiveDuration   string `mapstructure:"min_active_duration"`
	Timezone            string `mapstructure:"timezone"` // empty = local time
	SourceCacheSize     int    `mapstructure:"source_cache_size"`
}

// PolicyConfig defines which resources are tracked
type PolicyConfig struct {
	Engine            string   `mapstructure:"engine"` // "rego" or "builtin"
	TrackableSchemes  []string `mapstructure:"trackable_schemes"`
	DenyHosts         []string `mapstructure:"deny_hosts"`
	OPAPolicyDir      string   `mapstructure:"opa_policy_dir"` // empty = embedded default policy
	DecisionCacheSize int      `mapstructure:"decision_cache_size"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt", "redis" or "memory"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// RetentionConfig defines optional pruning of old day buckets
type RetentionConfig struct {
	Days     int    `mapstructure:"days"` // 0 keeps everything
	Interval string `mapstructure:"interval"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TABTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Keys returns every configuration key tabtime understands, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 7420)
	v.SetDefault("server.metrics_port", 9420)

	// Tracking defaults
	v.SetDefault("tracking.mode", "detailed")
	v.SetDefault("tracking.debounce_window", "100ms")
	v.SetDefault("tracking.flush_interval", "2s")
	v.SetDefault("tracking.safety_flush_interval", "0")
	v.SetDefault("tracking.min_active_duration", "0")
	v.SetDefault("tracking.timezone", "")
	v.SetDefault("tracking.source_cache_size", 1024)

	// Policy defaults
	v.SetDefault("policy.engine", "rego")
	v.SetDefault("policy.trackable_schemes", []string{"http", "https"})
	v.SetDefault("policy.deny_hosts", []string{})
	v.SetDefault("policy.opa_policy_dir", "")
	v.SetDefault("policy.decision_cache_size", 4096)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "tabtime")

	// Retention defaults
	v.SetDefault("retention.days", 0)
	v.SetDefault("retention.interval", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Tracking.Mode {
	case "detailed", "active_only":
	default:
		return fmt.Errorf("invalid tracking mode: %q (must be detailed or active_only)", cfg.Tracking.Mode)
	}

	if d, err := time.ParseDuration(cfg.Tracking.DebounceWindow); err != nil || d <= 0 {
		return fmt.Errorf("invalid debounce_window: %q", cfg.Tracking.DebounceWindow)
	}
	if d, err := time.ParseDuration(cfg.Tracking.FlushInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid flush_interval: %q", cfg.Tracking.FlushInterval)
	}
	if d, err := time.ParseDuration(cfg.Tracking.SafetyFlushInterval); err != nil || d < 0 {
		return fmt.Errorf("invalid safety_flush_interval: %q", cfg.Tracking.SafetyFlushInterval)
	}
	if d, err := time.ParseDuration(cfg.Tracking.MinActiveDuration); err != nil || d < 0 {
		return fmt.Errorf("invalid min_active_duration: %q", cfg.Tracking.MinActiveDuration)
	}
	if cfg.Tracking.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Tracking.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Tracking.Timezone, err)
		}
	}
	if cfg.Tracking.SourceCacheSize <= 0 {
		return fmt.Errorf("source_cache_size must be positive")
	}

	switch cfg.Policy.Engine {
	case "rego", "builtin":
	default:
		return fmt.Errorf("invalid policy engine: %q (must be rego or builtin)", cfg.Policy.Engine)
	}
	if len(cfg.Policy.TrackableSchemes) == 0 {
		return fmt.Errorf("at least one trackable scheme is required")
	}
	if cfg.Policy.DecisionCacheSize <= 0 {
		return fmt.Errorf("decision_cache_size must be positive")
	}

	if cfg.Retention.Days < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}

	switch cfg.Storage.Type {
	case "bolt":
		// Validate storage path
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return nil
}

// Location returns the configured day-bucket timezone, or nil for local time.
func (c TrackingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

func defaultStoragePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tabtime", "tabtime.bolt")
	}
	return "tabtime.bolt"
}
