package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	App         AppConfig         `toml:"app"`
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Cache       CacheConfig       `toml:"cache"`
	Sync        SyncConfig        `toml:"sync"`
	Server      ServerConfig      `toml:"server"`
}

// AppConfig contains process-wide settings.
type AppConfig struct {
	Name     string `toml:"name" validate:"required"`
	LogLevel string `toml:"log_level"`
}

// CredentialsConfig contains provider OAuth client settings and, optionally, stored user tokens.
type CredentialsConfig struct {
	Spotify ProviderConfig `toml:"spotify"`
	YouTube ProviderConfig `toml:"youtube"`
}

// ProviderConfig holds the OAuth2 client for one provider.
type ProviderConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
}

// Token returns the stored tokens as an [oauth2.Token], or nil when no access token is configured.
func (p ProviderConfig) Token() *oauth2.Token {
	if p.AccessToken == "" {
		return nil
	}
	return &oauth2.Token{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// CacheConfig selects the entity store backend.
type CacheConfig struct {
	Backend   string `toml:"backend" validate:"oneof=sqlite badger"`
	Path      string `toml:"path" validate:"required_if=Backend badger"`
	Namespace string `toml:"namespace" validate:"required"`
}

// SyncConfig tunes the job coordinator and provider clients.
type SyncConfig struct {
	Workers        int           `toml:"workers" validate:"min=1,max=16"`
	MaxAttempts    int           `toml:"max_attempts" validate:"min=1"`
	BackoffInitial time.Duration `toml:"backoff_initial"`
	BackoffMax     time.Duration `toml:"backoff_max"`
	KeepCompleted  int           `toml:"keep_completed" validate:"min=1"`
	KeepFailed     int           `toml:"keep_failed" validate:"min=1"`
	PollInterval   time.Duration `toml:"poll_interval"`
	RateLimit      float64       `toml:"rate_limit" validate:"gte=0"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// Addr returns host:port for [http.Server].
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveConfig writes config back to path, used after an OAuth flow stores fresh tokens.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
