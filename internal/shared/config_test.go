package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./sonar.db" {
			t.Errorf("expected database path ./sonar.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Providers.YouTube.ProxyURL != "http://127.0.0.1:8080" {
			t.Errorf("expected youtube proxy URL http://127.0.0.1:8080, got %s", config.Providers.YouTube.ProxyURL)
		}

		if config.Search.Timeout != 5*time.Second {
			t.Errorf("expected search timeout 5s, got %v", config.Search.Timeout)
		}

		if config.Cache.DefaultTTL != 10*time.Minute {
			t.Errorf("expected cache ttl 10m, got %v", config.Cache.DefaultTTL)
		}

		want := []string{"qobuz", "spotify", "youtube"}
		if len(config.Search.Priority) != len(want) {
			t.Fatalf("expected priority %v, got %v", want, config.Search.Priority)
		}
		for i := range want {
			if config.Search.Priority[i] != want[i] {
				t.Errorf("expected priority %v, got %v", want, config.Search.Priority)
			}
		}

		if err := config.Validate(); err != nil {
			t.Errorf("expected embedded config to validate, got %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080

[providers.qobuz]
enabled = true
app_id = "123"
app_secret = "abc"

[search]
timeout = "2s"
priority = ["youtube", "qobuz"]
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if !config.Providers.Qobuz.Enabled || config.Providers.Qobuz.AppID != "123" {
			t.Errorf("expected qobuz to be enabled with app_id 123, got %+v", config.Providers.Qobuz)
		}

		if config.Search.Timeout != 2*time.Second {
			t.Errorf("expected search timeout 2s, got %v", config.Search.Timeout)
		}

		if config.Cache.MaxEntries != 512 {
			t.Errorf("expected unspecified keys to keep defaults, got max_entries %d", config.Cache.MaxEntries)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tc := []struct {
			name   string
			mutate func(c *Config)
		}{
			{"enabled qobuz without secret", func(c *Config) {
				c.Providers.Qobuz.Enabled = true
				c.Providers.Qobuz.AppSecret = ""
			}},
			{"zero search timeout", func(c *Config) { c.Search.Timeout = 0 }},
			{"unknown provider in priority", func(c *Config) { c.Search.Priority = []string{"tidal"} }},
			{"limit above maximum", func(c *Config) { c.Search.DefaultLimit = 500 }},
			{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
			{"missing database path", func(c *Config) { c.Database.Path = "" }},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				config := DefaultConfig()
				tt.mutate(config)

				err := config.Validate()
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})

	t.Run("SaveConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		config := DefaultConfig()
		config.Providers.Spotify.AccessToken = "refreshed"
		config.Search.Timeout = 3 * time.Second

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}

		if loaded.Providers.Spotify.AccessToken != "refreshed" {
			t.Errorf("expected access token to round trip, got %q", loaded.Providers.Spotify.AccessToken)
		}
		if loaded.Search.Timeout != 3*time.Second {
			t.Errorf("expected timeout to round trip, got %v", loaded.Search.Timeout)
		}
	})

	t.Run("SpotifyConfig.Update", func(t *testing.T) {
		config := DefaultConfig()
		config.Providers.Spotify.RefreshToken = "stored"
		expiry := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

		err := config.Providers.Spotify.Update(&oauth2.Token{AccessToken: "fresh", Expiry: expiry})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Providers.Spotify.AccessToken != "fresh" {
			t.Errorf("expected access token fresh, got %q", config.Providers.Spotify.AccessToken)
		}
		if config.Providers.Spotify.RefreshToken != "stored" {
			t.Errorf("an empty refresh token should keep the stored one, got %q", config.Providers.Spotify.RefreshToken)
		}
		if !config.Providers.Spotify.TokenExpiry.Equal(expiry) {
			t.Errorf("expected expiry %v, got %v", expiry, config.Providers.Spotify.TokenExpiry)
		}

		if err := config.Providers.Spotify.Update(nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for a nil token, got %v", err)
		}
	})
}
