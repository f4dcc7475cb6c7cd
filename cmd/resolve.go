package main

import (
	"context"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/urfave/cli/v3"
)

// Resolve prints a playable stream URL for one track.
func (r *Runner) Resolve(ctx context.Context, cmd *cli.Command) error {
	provider := models.ParseProviderID(cmd.String("provider"))
	quality := models.ParseStreamQuality(cmd.String("quality"))
	trackID := cmd.String("id")

	r.logger.Debug("resolving stream", "provider", provider, "track", trackID, "quality", quality)

	stream, err := r.streamResolver(ctx).Resolve(ctx, trackID, provider, quality)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stream, true)
	}

	r.writePlain("%s\n", stream.URL)
	if !stream.ExpiresAt.IsZero() {
		r.writePlain("expires %s (in %s)\n", stream.ExpiresAt.Format(time.RFC3339), time.Until(stream.ExpiresAt).Round(time.Second))
	}
	return nil
}
