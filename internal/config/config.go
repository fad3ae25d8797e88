// Package config provides configuration management for KubDev.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like SERVER_PORT, LOG_LEVEL)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains SQLite store settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// ClusterConfig contains cluster adapter settings.
type ClusterConfig struct {
	// KubeconfigPath is used when running outside the cluster;
	// in-cluster config is tried first when it is empty.
	KubeconfigPath   string        `mapstructure:"kubeconfig_path"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	// IngressDomain is the suffix environment hostnames are minted
	// under ({workload}.{domain}).
	IngressDomain string `mapstructure:"ingress_domain"`
	// Registry prefixes compiled image tags.
	Registry string `mapstructure:"registry"`
}

// QuotaConfig contains the global quota ceiling and pressure thresholds.
type QuotaConfig struct {
	CeilingCPUMillis    int64 `mapstructure:"ceiling_cpu_millis"`
	CeilingMemoryBytes  int64 `mapstructure:"ceiling_memory_bytes"`
	CeilingStorageBytes int64 `mapstructure:"ceiling_storage_bytes"`
	CeilingMaxPods      int   `mapstructure:"ceiling_max_pods"`
	CeilingMaxServices  int   `mapstructure:"ceiling_max_services"`

	// Pressure thresholds as fractions of the allocated quota.
	WarningRatio  float64 `mapstructure:"warning_ratio"`
	CriticalRatio float64 `mapstructure:"critical_ratio"`
}

// RetryConfig contains backoff parameters for transient adapter errors.
type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// LifecycleConfig contains lifecycle manager settings.
type LifecycleConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// ProvisionWindow bounds one whole create sequence; a create that
	// has not reached Running within it is marked Failed.
	ProvisionWindow time.Duration `mapstructure:"provision_window"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

// BatchConfig contains batch coordinator settings.
type BatchConfig struct {
	MaxItems    int `mapstructure:"max_items"`
	Concurrency int `mapstructure:"concurrency"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	ClusterPoolSize int `mapstructure:"cluster_pool_size"`
}

// SecurityConfig contains security-related settings.
// The JWT secret is auto-generated on first boot if missing.
type SecurityConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kubdev")

	// Environment variable override without prefix: nested keys map as
	// batch.max_items -> BATCH_MAX_ITEMS.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Batch.MaxItems <= 0 {
		return fmt.Errorf("batch.max_items must be positive")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be positive")
	}
	if c.Quota.WarningRatio <= 0 || c.Quota.WarningRatio >= c.Quota.CriticalRatio {
		return fmt.Errorf("quota.warning_ratio must be positive and below quota.critical_ratio")
	}
	if c.Lifecycle.Retry.MaxAttempts < 1 {
		return fmt.Errorf("lifecycle.retry.max_attempts must be at least 1")
	}
	return nil
}

// ensureSecrets auto-generates missing secrets on first boot.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated jwt_secret; set SECURITY_JWT_SECRET env var for persistence",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database
	v.SetDefault("database.path", "kubdev.db")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Cluster
	v.SetDefault("cluster.kubeconfig_path", "")
	v.SetDefault("cluster.operation_timeout", "2m")
	v.SetDefault("cluster.ingress_domain", "kubdev.local")
	v.SetDefault("cluster.registry", "kubdev")

	// Quota ceiling: 4 cores, 8Gi, 20Gi, 10 pods, 5 services.
	v.SetDefault("quota.ceiling_cpu_millis", 4000)
	v.SetDefault("quota.ceiling_memory_bytes", 8*1024*1024*1024)
	v.SetDefault("quota.ceiling_storage_bytes", 20*1024*1024*1024)
	v.SetDefault("quota.ceiling_max_pods", 10)
	v.SetDefault("quota.ceiling_max_services", 5)
	v.SetDefault("quota.warning_ratio", 0.70)
	v.SetDefault("quota.critical_ratio", 0.90)

	// Lifecycle
	v.SetDefault("lifecycle.default_ttl", "8h")
	v.SetDefault("lifecycle.provision_window", "5m")
	v.SetDefault("lifecycle.retry.base_delay", "500ms")
	v.SetDefault("lifecycle.retry.multiplier", 2.0)
	v.SetDefault("lifecycle.retry.max_attempts", 4)

	// Batch
	v.SetDefault("batch.max_items", 200)
	v.SetDefault("batch.concurrency", 10)

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.cluster_pool_size", 10)

	// Security
	v.SetDefault("security.jwt_issuer", "kubdev")
	v.SetDefault("security.token_ttl", "24h")
}
