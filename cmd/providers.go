package main

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
	"golang.org/x/oauth2"
)

// buildRegistry creates an adapter for every enabled provider.
//
// A provider whose credentials are rejected is logged and left out so the others still serve.
func buildRegistry(
	ctx context.Context,
	cfg shared.ProvidersConfig,
	client *http.Client,
	logger *log.Logger,
	m *metrics.Metrics,
	saveToken func(*oauth2.Token) error,
) services.Registry {
	var providers []services.Provider

	if cfg.Qobuz.Enabled {
		creds := map[string]string{
			"app_id":          cfg.Qobuz.AppID,
			"app_secret":      cfg.Qobuz.AppSecret,
			"user_auth_token": cfg.Qobuz.UserAuthToken,
		}
		if svc, err := services.NewQobuzService(creds, client, cfg.Qobuz.RequestsPerSecond); err != nil {
			logger.Warn("qobuz disabled", "error", err)
		} else {
			svc.SetLogger(shared.WithLogger(logger, "provider", "qobuz"))
			svc.SetMetrics(m)
			providers = append(providers, svc)
		}
	}

	if cfg.Spotify.Enabled {
		if svc, err := newSpotify(ctx, cfg.Spotify, client, logger, saveToken); err != nil {
			logger.Warn("spotify disabled", "error", err)
		} else {
			svc.SetMetrics(m)
			providers = append(providers, svc)
		}
	}

	if cfg.YouTube.Enabled {
		svc := services.NewYouTubeService(cfg.YouTube.ProxyURL, client, cfg.YouTube.RequestsPerSecond)
		svc.SetLogger(shared.WithLogger(logger, "provider", "youtube"))
		svc.SetMetrics(m)
		if cfg.YouTube.AuthFile != "" {
			if err := svc.Authenticate(ctx, map[string]string{"auth_file": cfg.YouTube.AuthFile}); err != nil {
				logger.Warn("youtube auth file ignored", "error", err)
			}
		}
		providers = append(providers, svc)
	}

	return services.NewRegistry(providers...)
}

// newSpotify installs the stored user token, if any, and persists every refresh through saveToken.
func newSpotify(
	ctx context.Context,
	cfg shared.SpotifyConfig,
	client *http.Client,
	logger *log.Logger,
	saveToken func(*oauth2.Token) error,
) (*services.SpotifyService, error) {
	svc, err := services.NewSpotifyService(map[string]string{
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
	}, client, cfg.RequestsPerSecond)
	if err != nil {
		return nil, err
	}

	l := shared.WithLogger(logger, "provider", "spotify")
	svc.SetLogger(l)

	if cfg.AccessToken != "" {
		creds := map[string]string{
			"access_token":  cfg.AccessToken,
			"refresh_token": cfg.RefreshToken,
		}
		if !cfg.TokenExpiry.IsZero() {
			creds["expiry"] = cfg.TokenExpiry.Format(time.RFC3339)
		}
		if err := svc.Authenticate(ctx, creds); err != nil {
			return nil, err
		}
	}

	if saveToken != nil {
		svc.SetTokenRefreshCallback(func(token *oauth2.Token) {
			if err := saveToken(token); err != nil {
				l.Warn("failed to persist refreshed token", "error", err)
			}
		})
	}
	return svc, nil
}
