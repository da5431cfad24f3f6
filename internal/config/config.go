// Package config provides configuration management for the VM migration daemon.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Scheduler modes. Only ModeNormal lets the executor submit migrations.
const (
	ModeNormal  = "normal"
	ModeMonitor = "monitor"
	ModeTest    = "test"
)

// DRS automation levels.
const (
	AutomationManual = "manual"
	AutomationFull   = "full"
)

// KnownPolicies are the policy ids a strategy exists for.
var KnownPolicies = []string{"overcommit", "consolidation", "consolidation-overcommit"}

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DRS       DRSConfig       `mapstructure:"drs"`
	Migration MigrationConfig `mapstructure:"migration"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration. An empty host selects the in-memory fleet.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// URL returns the PostgreSQL connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration. No endpoints means no leader election.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	ElectionKey string        `mapstructure:"election_key"`
}

// RedisConfig holds Redis configuration. An empty host disables event publishing.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DRSConfig holds the periodic scheduling loop configuration.
type DRSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	AutomationLevel string        `mapstructure:"automation_level"`
	Interval        time.Duration `mapstructure:"interval"`
	Policy          string        `mapstructure:"policy"`
}

// MigrationConfig holds the migration engine configuration.
type MigrationConfig struct {
	// Licensed gates the whole engine.
	Licensed bool `mapstructure:"licensed"`

	// SchedulerMode is one of normal, monitor or test.
	SchedulerMode string `mapstructure:"scheduler_mode"`

	// DecisionsDisabled keeps planning alive but stops any submission.
	DecisionsDisabled bool `mapstructure:"decisions_disabled"`

	// ThrottleCeiling caps concurrently migrating VMs. Zero or negative means unlimited.
	ThrottleCeiling int `mapstructure:"throttle_ceiling"`

	// SubmitTimeout bounds a single job submission.
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`

	// Policies lists the policy ids that have a registered strategy.
	Policies []string `mapstructure:"policies"`

	OvercommitThreshold             float64 `mapstructure:"overcommit_threshold"`
	ConsolidationLoadThreshold      float64 `mapstructure:"consolidation_load_threshold"`
	ConsolidationMaxDestinationLoad float64 `mapstructure:"consolidation_max_destination_load"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("VMMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks enumerated values and numeric ranges.
func (c *Config) Validate() error {
	switch c.Migration.SchedulerMode {
	case ModeNormal, ModeMonitor, ModeTest:
	default:
		return fmt.Errorf("invalid migration.scheduler_mode %q", c.Migration.SchedulerMode)
	}

	switch c.DRS.AutomationLevel {
	case AutomationManual, AutomationFull:
	default:
		return fmt.Errorf("invalid drs.automation_level %q", c.DRS.AutomationLevel)
	}

	if !slices.Contains(KnownPolicies, c.DRS.Policy) {
		return fmt.Errorf("invalid drs.policy %q", c.DRS.Policy)
	}
	for _, p := range c.Migration.Policies {
		if !slices.Contains(KnownPolicies, p) {
			return fmt.Errorf("invalid migration.policies entry %q", p)
		}
	}

	if c.Migration.OvercommitThreshold <= 0 {
		return fmt.Errorf("migration.overcommit_threshold must be positive, got %v", c.Migration.OvercommitThreshold)
	}
	if c.Migration.ConsolidationLoadThreshold < 0 || c.Migration.ConsolidationLoadThreshold > 1 {
		return fmt.Errorf("migration.consolidation_load_threshold must be within [0,1], got %v", c.Migration.ConsolidationLoadThreshold)
	}
	if c.Migration.ConsolidationMaxDestinationLoad <= 0 {
		return fmt.Errorf("migration.consolidation_max_destination_load must be positive, got %v", c.Migration.ConsolidationMaxDestinationLoad)
	}
	if c.DRS.Enabled && c.DRS.Interval <= 0 {
		return fmt.Errorf("drs.interval must be positive when drs is enabled")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "vmmigrate")
	v.SetDefault("database.user", "vmmigrate")
	v.SetDefault("database.password", "vmmigrate")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.election_key", "vmmigrate-drs")

	// Redis
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "events:migration")

	// DRS
	v.SetDefault("drs.enabled", true)
	v.SetDefault("drs.automation_level", AutomationManual)
	v.SetDefault("drs.interval", "5m")
	v.SetDefault("drs.policy", "consolidation")

	// Migration engine
	v.SetDefault("migration.licensed", true)
	v.SetDefault("migration.scheduler_mode", ModeNormal)
	v.SetDefault("migration.decisions_disabled", false)
	v.SetDefault("migration.throttle_ceiling", 4)
	v.SetDefault("migration.submit_timeout", "10s")
	v.SetDefault("migration.policies", slices.Clone(KnownPolicies))
	v.SetDefault("migration.overcommit_threshold", 1.0)
	v.SetDefault("migration.consolidation_load_threshold", 0.25)
	v.SetDefault("migration.consolidation_max_destination_load", 0.8)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)
}
