package shared

import (
	_ "embed"
	"errors"
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
	Providers ProvidersConfig `toml:"providers"`
	Search    SearchConfig    `toml:"search"`
	Cache     CacheConfig     `toml:"cache"`
	Prefetch  PrefetchConfig  `toml:"prefetch"`
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

// ProvidersConfig contains per-provider credentials and switches.
type ProvidersConfig struct {
	Qobuz   QobuzConfig   `toml:"qobuz"`
	Spotify SpotifyConfig `toml:"spotify"`
	YouTube YouTubeConfig `toml:"youtube"`
}

// QobuzConfig contains Qobuz application credentials and an optional user session token.
type QobuzConfig struct {
	Enabled           bool    `toml:"enabled"`
	AppID             string  `toml:"app_id" validate:"required_if=Enabled true"`
	AppSecret         string  `toml:"app_secret" validate:"required_if=Enabled true"`
	UserAuthToken     string  `toml:"user_auth_token"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

// SpotifyConfig contains Spotify API credentials.
//
// Without an access token the adapter falls back to the client-credentials grant.
type SpotifyConfig struct {
	Enabled           bool      `toml:"enabled"`
	ClientID          string    `toml:"client_id" validate:"required_if=Enabled true"`
	ClientSecret      string    `toml:"client_secret" validate:"required_if=Enabled true"`
	AccessToken       string    `toml:"access_token"`
	RefreshToken      string    `toml:"refresh_token"`
	TokenExpiry       time.Time `toml:"token_expiry"`
	RequestsPerSecond float64   `toml:"requests_per_second" validate:"gte=0"`
}

// Update copies an obtained or refreshed token into the config.
//
// An empty refresh token keeps the stored one since refresh responses may omit it.
func (s *SpotifyConfig) Update(token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("%w: token cannot be nil", ErrInvalidInput)
	}
	s.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.RefreshToken = token.RefreshToken
	}
	s.TokenExpiry = token.Expiry
	return nil
}

// YouTubeConfig contains YouTube Music proxy settings.
type YouTubeConfig struct {
	Enabled           bool    `toml:"enabled"`
	ProxyURL          string  `toml:"proxy_url" validate:"required_if=Enabled true"`
	AuthFile          string  `toml:"auth_file"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

// SearchConfig controls the fan-out search.
type SearchConfig struct {
	Timeout      time.Duration `toml:"timeout" validate:"gt=0"`
	DefaultLimit int           `toml:"default_limit" validate:"gt=0,lte=50"`
	Priority     []string      `toml:"priority" validate:"dive,oneof=qobuz spotify youtube"`
}

// CacheConfig controls the stream URL cache.
type CacheConfig struct {
	DefaultTTL     time.Duration `toml:"default_ttl" validate:"gt=0"`
	MaxEntries     int           `toml:"max_entries" validate:"gt=0"`
	ResolveTimeout time.Duration `toml:"resolve_timeout" validate:"gt=0"`
}

// PrefetchConfig controls warming of upcoming queue entries.
type PrefetchConfig struct {
	Ahead             int     `toml:"ahead" validate:"gte=0"`
	Workers           int     `toml:"workers" validate:"gte=0,lte=10"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `toml:"file"`
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

// Validate checks field constraints and wraps failures in [ErrInvalidConfig].
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
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

// SaveConfig writes c to path, replacing any existing file.
//
// Used to persist refreshed Spotify tokens.
func SaveConfig(path string, c *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
