// Package config provides configuration management for the quantix scheduler.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/quantix-sched/internal/scheduler"
)

// Config holds all configuration for the application.
type Config struct {
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Store     StoreConfig      `mapstructure:"store"`
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	CORS      CORSConfig       `mapstructure:"cors"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Etcd      EtcdConfig       `mapstructure:"etcd"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// Store protocols.
const (
	ProtocolConnect = "connect"
	ProtocolGRPC    = "grpc"
	ProtocolGRPCWeb = "grpcweb"
)

// StoreConfig holds the resource store endpoint and scheduler credentials.
type StoreConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"`

	// Credentials is "<user>:<password>". When empty, the first line of AuthFile is used.
	Credentials string        `mapstructure:"credentials"`
	AuthFile    string        `mapstructure:"auth_file"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
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

// AuthConfig holds admin API authentication configuration. An empty secret disables
// authentication.
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	Issuer      string        `mapstructure:"issuer"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// CORSConfig holds CORS configuration for the admin API.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// DatabaseConfig holds PostgreSQL configuration for the placement journal.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
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

// EtcdConfig holds etcd configuration used for leader election.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	SessionTTL  int           `mapstructure:"session_ttl"`
	ElectionKey string        `mapstructure:"election_key"`
}

// RedisConfig holds Redis configuration used to publish cycle reports.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	ReportTTL time.Duration `mapstructure:"report_ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("QUANTIX_SCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Scheduler
	defaults := scheduler.DefaultConfig()
	v.SetDefault("scheduler.interval", defaults.Interval)
	v.SetDefault("scheduler.max_vms", defaults.MaxVMs)
	v.SetDefault("scheduler.max_dispatch", defaults.MaxDispatch)
	v.SetDefault("scheduler.max_host", defaults.MaxHost)
	v.SetDefault("scheduler.threshold", defaults.Threshold)
	v.SetDefault("scheduler.authorization", defaults.Authorization)
	v.SetDefault("scheduler.default_rank", defaults.DefaultRank)
	v.SetDefault("scheduler.policies", []map[string]any{{"name": "rank", "weight": 1.0}})

	// Resource store
	endpoint := "http://localhost:2633"
	if env := os.Getenv("ONE_XMLRPC"); env != "" {
		endpoint = env
	}
	v.SetDefault("store.endpoint", endpoint)
	v.SetDefault("store.protocol", ProtocolConnect)
	v.SetDefault("store.auth_file", defaultAuthFile())
	v.SetDefault("store.call_timeout", "30s")

	// Admin server
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 2634)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Auth
	v.SetDefault("auth.issuer", "quantix-sched")
	v.SetDefault("auth.token_expiry", "24h")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "quantix_sched")
	v.SetDefault("database.user", "quantix")
	v.SetDefault("database.password", "quantix")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.session_ttl", 30)
	v.SetDefault("etcd.election_key", "/leaders/quantix-sched")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.report_ttl", "10m")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// defaultAuthFile returns $ONE_AUTH, falling back to ~/.one/one_auth.
func defaultAuthFile() string {
	if env := os.Getenv("ONE_AUTH"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".one", "one_auth")
}
