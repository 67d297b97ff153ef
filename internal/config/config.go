// Package config provides application configuration management using Viper.
// Configuration is loaded from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dslock/pkg/locker"
)

// Config holds all application configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Lock    LockConfig    `mapstructure:"lock"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"` // development, staging, production
	Port      int    `mapstructure:"port"`
	BodyLimit int    `mapstructure:"body_limit"`
	Debug     bool   `mapstructure:"debug"`
}

// RedisConfig holds the primary/replica topology and shared pool settings.
type RedisConfig struct {
	Primary        NodeConfig `mapstructure:"primary"`
	Replica        NodeConfig `mapstructure:"replica"`
	Pool           PoolConfig `mapstructure:"pool"`
	CircuitBreaker CBConfig   `mapstructure:"circuit_breaker"`
}

// NodeConfig addresses one Redis node. An empty replica host disables the
// replica pool.
type NodeConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port, or "" when no host is set.
func (n NodeConfig) Addr() string {
	if n.Host == "" {
		return ""
	}

	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// PoolConfig holds connection pool sizing.
type PoolConfig struct {
	MaxTotal     int           `mapstructure:"max_total"`
	MinIdle      int           `mapstructure:"min_idle"`
	MaxIdle      int           `mapstructure:"max_idle"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CBConfig holds circuit breaker settings.
type CBConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// LockConfig holds lock backend settings and declaration defaults.
type LockConfig struct {
	Backend     string `mapstructure:"backend"`      // lease, redlock
	ReleaseMode string `mapstructure:"release_mode"` // check_then_delete, atomic
	KeyPrefix   string `mapstructure:"key_prefix"`
	// PrimaryReads sends the lock's own reads (GET, EXISTS) to the primary.
	PrimaryReads bool                   `mapstructure:"primary_reads"`
	Expression   ExpressionConfig       `mapstructure:"expression"`
	Defaults     DeclarationConfig      `mapstructure:"defaults"`
	Submission   GuardedOperationConfig `mapstructure:"submission"`
	Processing   GuardedOperationConfig `mapstructure:"processing"`
}

// ExpressionConfig sizes the compiled name expression cache.
type ExpressionConfig struct {
	CacheSize int64         `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// DeclarationConfig holds defaults for lock declarations.
type DeclarationConfig struct {
	RejectPolicy  string        `mapstructure:"reject_policy"`
	Type          string        `mapstructure:"type"`
	Message       string        `mapstructure:"message"`
	ExpireSeconds int64         `mapstructure:"expire_seconds"`
	Blocking      bool          `mapstructure:"blocking"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
}

// Declaration converts the defaults into a locker.Declaration.
func (d DeclarationConfig) Declaration() (locker.Declaration, error) {
	policy, err := locker.ParseRejectionPolicy(d.RejectPolicy)
	if err != nil {
		return locker.Declaration{}, err
	}
	lockType, err := locker.ParseType(d.Type)
	if err != nil {
		return locker.Declaration{}, err
	}

	decl := locker.NewDeclaration(
		locker.WithRejectPolicy(policy),
		locker.WithType(lockType),
		locker.WithMessage(d.Message),
		locker.WithExpire(d.ExpireSeconds),
		locker.WithBlocking(d.Blocking),
		locker.WithWaitTimeout(d.WaitTimeout),
	)

	return decl, decl.Validate()
}

// GuardedOperationConfig tunes one guarded service operation.
type GuardedOperationConfig struct {
	ExpireSeconds int64         `mapstructure:"expire_seconds"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	Retention     time.Duration `mapstructure:"retention"` // submission only
}

// AuditConfig holds lease audit job settings.
type AuditConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	OnStartup bool          `mapstructure:"on_startup"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ScanCount int64         `mapstructure:"scan_count"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr, file path
}

// SentryConfig holds Sentry error tracking settings.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry trace export settings.
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"` // none, stdout, otlp
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Validate reports configuration errors that defaults cannot fix.
func (c *Config) Validate() error {
	var errs []error

	if c.Redis.Primary.Host == "" {
		errs = append(errs, errors.New("redis.primary.host is required"))
	}
	switch c.Lock.Backend {
	case "lease", "redlock":
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be lease or redlock, got %q", c.Lock.Backend))
	}
	if _, err := locker.ParseReleaseMode(c.Lock.ReleaseMode); err != nil {
		errs = append(errs, fmt.Errorf("lock.release_mode: %w", err))
	}
	if _, err := c.Lock.Defaults.Declaration(); err != nil {
		errs = append(errs, fmt.Errorf("lock.defaults: %w", err))
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be none, stdout or otlp, got %q", c.Tracing.Exporter))
	}
	if c.Audit.Enabled && c.Audit.Interval < time.Second {
		errs = append(errs, errors.New("audit.interval must be at least 1s"))
	}

	return errors.Join(errs...)
}

// Load reads configuration from file and environment variables.
// Priority: env vars > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found, continue with defaults + env vars
	}

	v.SetEnvPrefix("DSLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "dslock")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.body_limit", 1024*1024)
	v.SetDefault("app.debug", true)

	// Redis defaults
	v.SetDefault("redis.primary.host", "localhost")
	v.SetDefault("redis.primary.port", 6379)
	v.SetDefault("redis.primary.password", "")
	v.SetDefault("redis.primary.db", 0)
	v.SetDefault("redis.replica.host", "")
	v.SetDefault("redis.replica.port", 6379)
	v.SetDefault("redis.replica.password", "")
	v.SetDefault("redis.replica.db", 0)
	v.SetDefault("redis.pool.max_total", 20)
	v.SetDefault("redis.pool.min_idle", 2)
	v.SetDefault("redis.pool.max_idle", 10)
	v.SetDefault("redis.pool.max_wait", "3s")
	v.SetDefault("redis.pool.idle_timeout", "5m")
	v.SetDefault("redis.pool.dial_timeout", "2s")
	v.SetDefault("redis.pool.read_timeout", "1s")
	v.SetDefault("redis.pool.write_timeout", "1s")
	v.SetDefault("redis.circuit_breaker.max_requests", 3)
	v.SetDefault("redis.circuit_breaker.interval", "60s")
	v.SetDefault("redis.circuit_breaker.timeout", "10s")
	v.SetDefault("redis.circuit_breaker.failure_ratio", 0.6)
	v.SetDefault("redis.circuit_breaker.min_requests", 10)

	// Lock defaults
	v.SetDefault("lock.backend", "lease")
	v.SetDefault("lock.release_mode", "check_then_delete")
	v.SetDefault("lock.key_prefix", "lock")
	v.SetDefault("lock.primary_reads", true)
	v.SetDefault("lock.expression.cache_size", 2048)
	v.SetDefault("lock.expression.cache_ttl", "30m")
	v.SetDefault("lock.defaults.reject_policy", "ABORT")
	v.SetDefault("lock.defaults.type", "AUTO")
	v.SetDefault("lock.defaults.message", locker.DefaultMessage)
	v.SetDefault("lock.defaults.expire_seconds", locker.DefaultExpireSeconds)
	v.SetDefault("lock.defaults.blocking", true)
	v.SetDefault("lock.defaults.wait_timeout", "2s")
	v.SetDefault("lock.submission.expire_seconds", 10)
	v.SetDefault("lock.submission.wait_timeout", "0s")
	v.SetDefault("lock.submission.retention", "24h")
	v.SetDefault("lock.processing.expire_seconds", 30)
	v.SetDefault("lock.processing.wait_timeout", "2s")

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.interval", "1m")
	v.SetDefault("audit.on_startup", true)
	v.SetDefault("audit.timeout", "10s")
	v.SetDefault("audit.scan_count", 500)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")

	// Sentry defaults
	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.sample_rate", 1.0)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
}
