// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// formatFlags are shared by every command that renders tracks.
func formatFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: plain, json, csv, markdown or txt",
			Value:   "plain",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Shorthand for --format json",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write csv, markdown or txt exports to this path instead of stdout",
		},
	}
}

// setupCommand handles configuration and database setup.
func setupCommand(r *Runner) *cli.Command {
	configFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
		}
	}

	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config.toml from the built-in template",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "status",
				Usage:  "Show applied and pending migrations",
				Action: r.SetupStatus,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// authCommand reports provider sessions.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Inspect provider authentication",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "List configured providers and whether each holds a user session",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

// searchCommand runs one aggregated search.
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "search",
		Aliases: []string{"s"},
		Usage:   "Search every configured provider at once",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "query",
			},
		},
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "all, track, album or playlist",
				Value:   "all",
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Comma-separated providers to query (default: all configured)",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Result offset requested from each provider",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Results requested from each provider (default: search.default_limit)",
			},
		}, formatFlags()...),
		Action: r.Search,
	}
}

// resolveCommand resolves one stream URL.
func resolveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve a playable stream URL for a track",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "provider",
				Aliases:  []string{"p"},
				Usage:    "Provider that owns the track",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Provider track ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "quality",
				Aliases: []string{"q"},
				Usage:   "hi_res, lossless, lossy or preview",
				Value:   "lossless",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Resolve,
	}
}

// queueCommand manipulates the persisted playback queue.
func queueCommand(r *Runner) *cli.Command {
	nameFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:  "name",
			Usage: "Saved queue to operate on",
			Value: defaultQueueName,
		}
	}
	qualityFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "quality",
			Aliases: []string{"q"},
			Usage:   "hi_res, lossless, lossy or preview",
			Value:   "lossless",
		}
	}
	jsonFlag := func() cli.Flag {
		return &cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		}
	}

	return &cli.Command{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "Manage the playback queue",
		Commands: []*cli.Command{
			{
				Name:  "load",
				Usage: "Replace the queue with an album, playlist, search or single track",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Flags: []cli.Flag{
					nameFlag(), qualityFlag(), jsonFlag(),
					&cli.StringFlag{
						Name:    "kind",
						Aliases: []string{"k"},
						Usage:   "album, playlist, search or track",
						Value:   "album",
					},
					&cli.StringFlag{
						Name:    "provider",
						Aliases: []string{"p"},
						Usage:   "Provider that owns the album, playlist or track; comma list for search",
					},
					&cli.BoolFlag{
						Name:  "shuffle",
						Usage: "Start in shuffle mode",
					},
					&cli.StringFlag{
						Name:  "loop",
						Usage: "once, repeat or infinite",
						Value: "once",
					},
					&cli.IntFlag{
						Name:  "repeat",
						Usage: "Extra passes when --loop repeat",
						Value: 1,
					},
					&cli.BoolFlag{
						Name:  "append",
						Usage: "Append to the queue instead of replacing it",
					},
					&cli.BoolFlag{
						Name:  "play",
						Usage: "Resolve the first track after loading",
						Value: true,
					},
				},
				Action: r.QueueLoad,
			},
			{
				Name:    "show",
				Aliases: []string{"ls"},
				Usage:   "Show the queue in traversal order",
				Flags:   append([]cli.Flag{nameFlag()}, formatFlags()...),
				Action:  r.QueueShow,
			},
			{
				Name:   "next",
				Usage:  "Advance and resolve the next track",
				Flags:  []cli.Flag{nameFlag(), qualityFlag(), jsonFlag()},
				Action: r.QueueNext,
			},
			{
				Name:    "prev",
				Aliases: []string{"previous"},
				Usage:   "Step back and resolve the previous track",
				Flags:   []cli.Flag{nameFlag(), qualityFlag(), jsonFlag()},
				Action:  r.QueuePrevious,
			},
			{
				Name:  "jump",
				Usage: "Play the track at a traversal position (1-based)",
				Arguments: []cli.Argument{
					&cli.IntArg{
						Name: "position",
					},
				},
				Flags:  []cli.Flag{nameFlag(), qualityFlag(), jsonFlag()},
				Action: r.QueueJump,
			},
			{
				Name:  "shuffle",
				Usage: "Toggle between normal and shuffle play",
				Flags: []cli.Flag{
					nameFlag(), jsonFlag(),
					&cli.BoolFlag{
						Name:  "reshuffle",
						Usage: "Reshuffle upcoming tracks instead of toggling",
					},
				},
				Action: r.QueueShuffle,
			},
			{
				Name:  "loop",
				Usage: "Cycle the loop mode, or set it with --mode",
				Flags: []cli.Flag{
					nameFlag(), jsonFlag(),
					&cli.StringFlag{
						Name:  "mode",
						Usage: "once, repeat or infinite",
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Extra passes for repeat",
						Value: 1,
					},
				},
				Action: r.QueueLoop,
			},
			{
				Name:    "remove",
				Aliases: []string{"rm"},
				Usage:   "Remove the track at a traversal position (1-based)",
				Arguments: []cli.Argument{
					&cli.IntArg{
						Name: "position",
					},
				},
				Flags:  []cli.Flag{nameFlag(), jsonFlag()},
				Action: r.QueueRemove,
			},
			{
				Name:  "move",
				Usage: "Move a track between traversal positions (1-based)",
				Arguments: []cli.Argument{
					&cli.IntArg{
						Name: "from",
					},
					&cli.IntArg{
						Name: "to",
					},
				},
				Flags:  []cli.Flag{nameFlag(), jsonFlag()},
				Action: r.QueueMove,
			},
			{
				Name:   "clear",
				Usage:  "Empty the queue",
				Flags:  []cli.Flag{nameFlag()},
				Action: r.QueueClear,
			},
		},
	}
}

// serveCommand starts the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve search, stream resolution and the queue over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
			&cli.StringFlag{
				Name:    "quality",
				Aliases: []string{"q"},
				Usage:   "Default stream quality",
				Value:   "lossless",
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command for interactive search and playback.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive search and now-playing TUI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "all, track, album or playlist",
				Value:   "track",
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Comma-separated providers to query (default: all configured)",
			},
			&cli.StringFlag{
				Name:    "quality",
				Aliases: []string{"q"},
				Usage:   "hi_res, lossless, lossy or preview",
				Value:   "lossless",
			},
		},
		Action: r.TUI,
	}
}
