package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/server"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/desertthunder/sonar/internal/tasks"
	"github.com/desertthunder/sonar/internal/ui"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive search and now-playing terminal UI.
//
// The queue is restored from and saved back to the default saved queue.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	providers, err := server.ParseProviders(cmd.String("provider"))
	if err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(lo.CoalesceOrEmpty(r.config.Log.File, "./tmp/sonar-tui.log"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLevel(r.config.Log.Level))
	r.SetLogger(fileLogger)

	if len(r.providers(ctx)) == 0 {
		return fmt.Errorf("%w: no providers enabled in config", shared.ErrServiceUnavailable)
	}

	progress := make(chan tasks.ProgressUpdate, 64)
	ctrl, err := r.newController(ctx, controllerOpts{
		sink:     server.RemoteSink{},
		quality:  models.ParseStreamQuality(cmd.String("quality")),
		prefetch: true,
		progress: progress,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if _, err := ctrl.Restore(defaultQueueName); err != nil {
		r.logger.Debug("no saved queue restored", "error", err)
	}

	model := ui.NewModel(ctx, aggregator.NewSession(r.aggregator(ctx)), ctrl, ui.Options{
		Type:      models.ParseSearchType(cmd.String("type")),
		Limit:     r.config.Search.DefaultLimit,
		Providers: providers,
		Progress:  progress,
	})
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	if err := ctrl.Save(defaultQueueName); err != nil {
		r.logger.Warn("failed to save queue", "error", err)
	}
	return nil
}
