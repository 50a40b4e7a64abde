package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. CHATGATE_AUTH_SECRET.
const EnvPrefix = "CHATGATE_"

// Config is the root configuration structure for Chatgate Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	API      APIConfig      `yaml:"api"      envPrefix:"API_"`
	Logging  LoggingConfig  `yaml:"logging"  envPrefix:"LOGGING_"`
	Auth     AuthConfig     `yaml:"auth"     envPrefix:"AUTH_"`
	MQTT     MQTTConfig     `yaml:"mqtt"     envPrefix:"MQTT_"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" envPrefix:"INFLUXDB_"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"         env:"PATH"`
	WALMode     bool   `yaml:"wal_mode"     env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"     env:"HOST"`
	Port     int              `yaml:"port"     env:"PORT"`
	TLS      TLSConfig        `yaml:"tls"      envPrefix:"TLS_"`
	Timeouts APITimeoutConfig `yaml:"timeouts" envPrefix:"TIMEOUT_"`
	CORS     CORSConfig       `yaml:"cors"     envPrefix:"CORS_"`
	Cookie   CookieConfig     `yaml:"cookie"   envPrefix:"COOKIE_"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"   env:"ENABLED"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file"  env:"KEY_FILE"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"  env:"READ"`
	Write int `yaml:"write" env:"WRITE"`
	Idle  int `yaml:"idle"  env:"IDLE"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `yaml:"allowed_methods" env:"ALLOWED_METHODS" envSeparator:","`
	AllowedHeaders []string `yaml:"allowed_headers" env:"ALLOWED_HEADERS" envSeparator:","`
}

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Name     string `yaml:"name"      env:"NAME"`
	Path     string `yaml:"path"      env:"PATH"`
	Secure   bool   `yaml:"secure"    env:"SECURE"`
	SameSite string `yaml:"same_site" env:"SAME_SITE"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"  env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// AuthConfig contains token, password and session settings.
type AuthConfig struct {
	// Secret is the HMAC key for signing tokens. Always set via CHATGATE_AUTH_SECRET in production.
	Secret string `yaml:"secret" env:"SECRET"`

	// Algorithm is one of HS256, HS384, HS512.
	Algorithm string `yaml:"algorithm" env:"ALGORITHM"`

	// AccessTokenTTL is the access token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL"`

	// RefreshTokenTTL is the refresh token lifetime in days.
	RefreshTokenTTL int `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL"`

	// ClockSkew is the tolerated clock drift in seconds when checking expiry.
	ClockSkew int `yaml:"clock_skew" env:"CLOCK_SKEW"`

	// DefaultGroup is assigned to newly registered users.
	DefaultGroup string `yaml:"default_group" env:"DEFAULT_GROUP"`

	// RetentionDays keeps expired ledger rows this long before purging.
	RetentionDays int `yaml:"retention_days" env:"RETENTION_DAYS"`

	// CleanupInterval is how often the purge runs, in minutes.
	CleanupInterval int `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`

	Password PasswordConfig `yaml:"password" envPrefix:"PASSWORD_"`
	Seed     SeedConfig     `yaml:"seed"     envPrefix:"SEED_"`
}

// PasswordConfig contains Argon2id cost parameters.
type PasswordConfig struct {
	Time          uint32 `yaml:"time"           env:"TIME"`
	MemoryKiB     uint32 `yaml:"memory_kib"     env:"MEMORY_KIB"`
	Threads       uint8  `yaml:"threads"        env:"THREADS"`
	MaxConcurrent int64  `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// SeedConfig describes the groups and scopes created on first boot.
type SeedConfig struct {
	// AdminEmail receives a generated password when the user table is empty.
	AdminEmail  string            `yaml:"admin_email"  env:"ADMIN_EMAIL"`
	AdminGroups []string          `yaml:"admin_groups" env:"ADMIN_GROUPS" envSeparator:","`
	Scopes      []SeedScopeConfig `yaml:"scopes"`
	Groups      []SeedGroupConfig `yaml:"groups"`
}

// SeedScopeConfig is a scope to ensure at startup.
type SeedScopeConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedGroupConfig is a group and the scopes it grants.
type SeedGroupConfig struct {
	Name   string   `yaml:"name"`
	Scopes []string `yaml:"scopes"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"      env:"ENABLED"`
	Broker      MQTTBrokerConfig    `yaml:"broker"       envPrefix:"BROKER_"`
	Auth        MQTTAuthConfig      `yaml:"auth"         envPrefix:""`
	QoS         int                 `yaml:"qos"          env:"QOS"`
	TopicPrefix string              `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"    envPrefix:"RECONNECT_"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"      env:"HOST"`
	Port     int    `yaml:"port"      env:"PORT"`
	TLS      bool   `yaml:"tls"       env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     int `yaml:"max_delay"     env:"MAX_DELAY"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"        env:"ENABLED"`
	URL           string `yaml:"url"            env:"URL"`
	Token         string `yaml:"token"          env:"TOKEN"`
	Org           string `yaml:"org"            env:"ORG"`
	Bucket        string `yaml:"bucket"         env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size"     env:"BATCH_SIZE"`
	FlushInterval int    `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern CHATGATE_SECTION_KEY,
// for example CHATGATE_DATABASE_PATH or CHATGATE_AUTH_SECRET.
// A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ParseEnv applies CHATGATE_* environment overrides onto target.
// Unset variables leave the existing value untouched.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/chatgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Cookie: CookieConfig{
				Name:     "refresh_token",
				Path:     "/",
				SameSite: "lax",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Auth: AuthConfig{
			Algorithm:       "HS256",
			AccessTokenTTL:  15,
			RefreshTokenTTL: 7,
			ClockSkew:       0,
			DefaultGroup:    "user",
			RetentionDays:   30,
			CleanupInterval: 60,
			Password: PasswordConfig{
				Time:          3,
				MemoryKiB:     64 * 1024,
				Threads:       1,
				MaxConcurrent: 4,
			},
			Seed: SeedConfig{
				Scopes: []SeedScopeConfig{
					{Name: "chat", Description: "Use chat completions"},
					{Name: "conversation", Description: "Manage own conversations"},
					{Name: "add_more_model_config", Description: "Create additional model configurations"},
				},
				Groups: []SeedGroupConfig{
					{Name: "user", Scopes: []string{"chat", "conversation"}},
					{Name: "admin", Scopes: []string{"chat", "conversation", "add_more_model_config"}},
				},
				AdminEmail:  "admin@chatgate.local",
				AdminGroups: []string{"admin", "user"},
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "chatgate-core",
			},
			QoS:         1,
			TopicPrefix: "chatgate",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// Validate checks the configuration for errors and security issues.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}
	switch strings.ToLower(c.API.Cookie.SameSite) {
	case "", "lax", "strict", "none":
	default:
		errs = append(errs, errors.New("api.cookie.same_site must be lax, strict or none"))
	}

	// Forged tokens grant every scope, so a short or empty secret is fatal.
	const minSecretLength = 32
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required (set CHATGATE_AUTH_SECRET environment variable)"))
	} else if len(c.Auth.Secret) < minSecretLength {
		errs = append(errs, errors.New("auth.secret must be at least 32 characters for adequate security"))
	}

	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm %q is not supported (use HS256, HS384 or HS512)", c.Auth.Algorithm))
	}

	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.refresh_token_ttl must be positive"))
	}
	if c.Auth.AccessTokenTTL > 0 && c.Auth.RefreshTokenTTL > 0 && c.AccessTokenTTL() >= c.RefreshTokenTTL() {
		errs = append(errs, errors.New("auth.access_token_ttl must be shorter than auth.refresh_token_ttl"))
	}
	if c.Auth.ClockSkew < 0 {
		errs = append(errs, errors.New("auth.clock_skew cannot be negative"))
	}
	if c.Auth.RetentionDays < 0 {
		errs = append(errs, errors.New("auth.retention_days cannot be negative"))
	}
	if c.Auth.CleanupInterval <= 0 {
		errs = append(errs, errors.New("auth.cleanup_interval must be positive"))
	}
	if c.Auth.Password.Time == 0 || c.Auth.Password.MemoryKiB == 0 || c.Auth.Password.Threads == 0 {
		errs = append(errs, errors.New("auth.password parameters must all be positive"))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, errors.New("influxdb.url is required when influxdb is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// AccessTokenTTL returns the access token lifetime as a Duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTL) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime as a Duration.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTokenTTL) * 24 * time.Hour
}

// ClockSkew returns the tolerated clock drift as a Duration.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.Auth.ClockSkew) * time.Second
}

// Retention returns how long expired ledger rows are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Auth.RetentionDays) * 24 * time.Hour
}

// CleanupInterval returns how often expired ledger rows are purged.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Auth.CleanupInterval) * time.Minute
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
