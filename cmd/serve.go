package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/server"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP API until interrupted, then shuts down gracefully.
//
// Playback runs against a remote sink: clients fetch the handed-off URL from the queue endpoints.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quality := models.ParseStreamQuality(cmd.String("quality"))
	ctrl, err := r.newController(ctx, controllerOpts{
		sink:     server.RemoteSink{},
		quality:  quality,
		prefetch: true,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	api := &server.API{
		Searcher:     r.aggregator(ctx),
		Resolver:     r.streamResolver(ctx),
		Controller:   ctrl,
		Registry:     r.providers(ctx),
		Metrics:      r.metrics,
		DefaultLimit: r.config.Search.DefaultLimit,
		Quality:      quality,
		Logger:       r.logger,
	}

	addr := lo.CoalesceOrEmpty(cmd.String("addr"), r.config.Server.Addr())
	srv := server.New(addr, server.NewHandler(api), r.logger)
	r.logger.Info("serving", "addr", addr, "providers", api.Registry.IDs())
	return srv.ListenAndServe(ctx)
}
