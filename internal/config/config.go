package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Session     SessionConfig     `mapstructure:"session"`
	Devices     DevicesConfig     `mapstructure:"device_profiles"`
	Database    DatabaseConfig    `mapstructure:"database"`
	API         APIConfig         `mapstructure:"api"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BackendConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	WSURL          string        `mapstructure:"ws_url"`
	Email          string        `mapstructure:"email"`
	PasswordEnv    string        `mapstructure:"password_env"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type SessionConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	StableAfter    time.Duration `mapstructure:"stable_after"`
}

type DevicesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
	Profile     string   `mapstructure:"profile"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// APIConfig protects the local HTTP API. TokenHash is an argon2id hash of
// the bearer key; empty leaves the API open.
type APIConfig struct {
	TokenHash string `mapstructure:"token_hash"`
}

type MQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	ClientID  string `mapstructure:"client_id"`
	BaseTopic string `mapstructure:"base_topic"`
}

type DiagnosticsConfig struct {
	RecentWrites int `mapstructure:"recent_writes"`
}

// Load reads the YAML config at path. A missing file is fine as long as
// the required settings come from the environment (prefix BRAGER_).
func Load(path string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("log_level", "info")
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("backend.api_url", "https://cloud.bragerone.com/api")
	v.SetDefault("backend.ws_url", "wss://cloud.bragerone.com/ws")
	v.SetDefault("backend.password_env", "BRAGER_PASSWORD")
	v.SetDefault("backend.request_timeout", "15s")
	v.SetDefault("backend.write_timeout", "10s")

	v.SetDefault("session.initial_backoff", "1s")
	v.SetDefault("session.max_backoff", "60s")
	v.SetDefault("session.stable_after", "30s")

	v.SetDefault("device_profiles.search_paths", []string{"./profiles"})
	v.SetDefault("device_profiles.profile", "default")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "bragersync")
	v.SetDefault("mqtt.base_topic", "bragerone")

	v.SetDefault("diagnostics.recent_writes", 50)

	// BRAGER_BACKEND_EMAIL overrides backend.email
	v.SetEnvPrefix("BRAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Backend.APIURL == "" {
		return errors.New("backend.api_url is required")
	}
	if c.Backend.WSURL == "" {
		return errors.New("backend.ws_url is required")
	}
	if c.Devices.Profile == "" {
		return errors.New("device_profiles.profile is required")
	}
	if c.Session.MaxBackoff < c.Session.InitialBackoff {
		return fmt.Errorf("session.max_backoff %s is below session.initial_backoff %s",
			c.Session.MaxBackoff, c.Session.InitialBackoff)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Password reads the backend password from the configured environment
// variable.
func (b *BackendConfig) Password() string {
	envVar := b.PasswordEnv
	if envVar == "" {
		envVar = "BRAGER_PASSWORD"
	}
	return os.Getenv(envVar)
}
