package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/formatter"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/server"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthStatus lists each configured provider with its session state.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	registry := r.providers(ctx)

	type status struct {
		Provider      models.ProviderID `json:"provider"`
		Name          string            `json:"name"`
		Authenticated bool              `json:"authenticated"`
	}
	statuses := make([]status, 0, len(registry))
	for _, id := range registry.IDs() {
		p, _ := registry.Get(id)
		statuses = append(statuses, status{Provider: id, Name: p.Name(), Authenticated: p.Authenticated()})
	}

	if cmd.Bool("json") {
		return r.writeJSON(statuses, true)
	}

	if len(statuses) == 0 {
		r.writePlain("No providers enabled. Set enabled = true under [providers.*] in %s\n", r.configPath)
		return nil
	}
	for _, s := range statuses {
		mark := "✗ anonymous"
		if s.Authenticated {
			mark = "✓ signed in"
		}
		r.writePlain("%-14s %s\n", s.Name, mark)
	}
	return nil
}

// Search runs one aggregated search and renders the merged page.
//
// A provider that fails is reported on stderr through the logger; the command only fails when every provider does.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}

	providers, err := server.ParseProviders(cmd.String("provider"))
	if err != nil {
		return err
	}

	limit := cmd.Int("limit")
	if limit <= 0 {
		limit = r.config.Search.DefaultLimit
	}

	req := aggregator.Request{
		Query:     query,
		Type:      models.ParseSearchType(cmd.String("type")),
		Offset:    cmd.Int("offset"),
		Limit:     limit,
		Providers: providers,
	}
	r.logger.Debug("searching", "query", query, "type", req.Type, "providers", providers)

	results, err := r.aggregator(ctx).Search(ctx, req)
	if err != nil {
		var agg *aggregator.AggregateError
		if errors.As(err, &agg) {
			for id, cause := range agg.Failures {
				r.logger.Error("provider failed", "provider", id, "error", cause)
			}
		}
		return fmt.Errorf("search failed: %w", err)
	}

	format := outputFormat(cmd)
	if format == "plain" {
		r.writeResults(query, results)
		return nil
	}
	if format == "json" {
		return r.writeJSON(results, cmd.Bool("pretty"))
	}
	return r.export(formatter.ExportFromResults(query, results), format, cmd.String("output"))
}

func (r *Runner) writeResults(query string, results *models.SearchResults) {
	names := make([]string, len(results.Providers))
	for i, p := range results.Providers {
		names[i] = p.DisplayName()
	}
	r.writePlainHeader(fmt.Sprintf("%q: %d total from %s", query, results.Total, strings.Join(names, ", ")))

	if len(results.Tracks) > 0 {
		r.writePlainln("Tracks")
		for i, t := range results.Tracks {
			r.writePlain("%3d. %s\n", results.Offset+i+1, formatter.TrackLine(t))
			r.writePlain("     %s · %s · %s:%s\n", formatter.FormatQuality(t.Quality), t.Source.DisplayName(), t.Source, t.ID)
		}
	}
	if len(results.Albums) > 0 {
		r.writePlainln("Albums")
		for _, a := range results.Albums {
			r.writePlain("  %s - %s (%d tracks) %s:%s\n", a.Artist, a.Title, len(a.Tracks), a.Source, a.ID)
		}
	}
	if len(results.Playlists) > 0 {
		r.writePlainln("Playlists")
		for _, p := range results.Playlists {
			if p.Placeholder {
				r.writePlain("  [unavailable] %s\n", p.Problem)
				continue
			}
			r.writePlain("  %s by %s (%d tracks) %s:%s\n", p.Name, p.Owner, p.TrackCount, p.Provider, p.ID)
		}
	}
	if len(results.Tracks)+len(results.Albums)+len(results.Playlists) == 0 {
		r.writePlain("No results\n")
	}
}

// export renders e to stdout, or to files when output is set.
func (r *Runner) export(e *formatter.Export, format, output string) error {
	if output == "" {
		return formatter.Render(r.output, e, format)
	}

	switch format {
	case "csv":
		res, err := formatter.WriteCSVExport(e, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Wrote %s and %s\n", res.TracksFile, res.MetadataFile)
	case "markdown", "md":
		res, err := formatter.WriteMarkdownExport(e, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Wrote %s\n", strings.Join(res.Files, ", "))
	case "txt", "text":
		path, err := formatter.WriteTextExport(e, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Wrote %s\n", path)
	default:
		return fmt.Errorf("%w: --output needs --format csv, markdown or txt", shared.ErrInvalidArgument)
	}
	return nil
}

func outputFormat(cmd *cli.Command) string {
	if cmd.Bool("json") {
		return "json"
	}
	return strings.ToLower(cmd.String("format"))
}
