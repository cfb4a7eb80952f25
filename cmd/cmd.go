// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// withJSON appends fresh --json and --pretty flags to flags.
func withJSON(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
		},
	)
}

// setupCommand initializes the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, initialize the database and run migrations",
		Action: r.Setup,
	}
}

// authCommand runs the OAuth flow that supplies provider tokens.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize libsync to read your library",
		Commands: []*cli.Command{
			{
				Name:   "spotify",
				Usage:  "Authorize with Spotify using OAuth2",
				Action: r.AuthProvider("spotify"),
			},
			{
				Name:    "youtube",
				Aliases: []string{"yt"},
				Usage:   "Authorize with YouTube using Google OAuth2",
				Action:  r.AuthProvider("youtube"),
			},
		},
	}
}

// syncCommand queues and inspects sync jobs.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Queue and monitor library syncs",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Queue a sync for the namespace; an active job is reused",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Run the job in this process and print progress until it finishes",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Run the job in this process behind the interactive progress view",
					},
				},
				Action: r.SyncStart,
			},
			{
				Name:      "status",
				Usage:     "Show the status of a job",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags:     withJSON(),
				Action:    r.SyncStatus,
			},
			{
				Name:   "active",
				Usage:  "Print the waiting or active job of the namespace",
				Flags:  withJSON(),
				Action: r.SyncActive,
			},
			{
				Name:  "history",
				Usage: "List retained jobs of the namespace, newest first",
				Flags: withJSON(&cli.IntFlag{
					Name:  "limit",
					Usage: "Maximum number of jobs to list",
					Value: 10,
				}),
				Action: r.SyncHistory,
			},
			{
				Name:      "watch",
				Usage:     "Watch a job in the interactive progress view",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "run",
						Usage: "Also run queued jobs in this process",
					},
				},
				Action: r.SyncWatch,
			},
		},
	}
}

// workerCommand runs the supervised worker pool.
func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run sync workers with /healthz, /metrics and /jobs/{id} on the configured server address",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of workers, overriding [sync].workers",
			},
			&cli.BoolFlag{
				Name:  "no-http",
				Usage: "Do not start the HTTP server",
			},
		},
		Action: r.Worker,
	}
}

// libraryCommand reads the cached library.
func libraryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "library",
		Aliases: []string{"lib"},
		Usage:   "Read the cached library of the namespace",
		Commands: []*cli.Command{
			{
				Name:   "user",
				Usage:  "Show the synced profile",
				Flags:  withJSON(),
				Action: r.LibraryUser,
			},
			{
				Name:   "playlists",
				Usage:  "List playlists, liked songs first",
				Flags:  withJSON(),
				Action: r.LibraryPlaylists,
			},
			{
				Name:  "tracks",
				Usage: "List every track, or the tracks of one playlist",
				Flags: withJSON(&cli.StringFlag{
					Name:  "playlist",
					Usage: "Playlist id; use liked-songs for saved tracks",
				}),
				Action: r.LibraryTracks,
			},
			{
				Name:      "export",
				Usage:     "Export a cached playlist as csv, markdown or text",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "csv, markdown or text",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output path; defaults to the playlist id",
					},
					&cli.BoolFlag{
						Name:  "no-cover",
						Usage: "Skip downloading the cover image for markdown exports",
					},
				},
				Action: r.LibraryExport,
			},
			{
				Name:  "artists",
				Usage: "List artists by track count",
				Flags: withJSON(&cli.IntFlag{
					Name:  "limit",
					Usage: "Maximum number of artists to list",
				}),
				Action: r.LibraryArtists,
			},
			{
				Name:   "status",
				Usage:  "Show when the library was last synced",
				Flags:  withJSON(),
				Action: r.LibraryStatus,
			},
			{
				Name:   "delete",
				Usage:  "Delete the cached library; rejected while a sync is running",
				Action: r.LibraryDelete,
			},
		},
	}
}

// insightsCommand cross-references the cached library.
func insightsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "insights",
		Usage: "Analyze the cached library",
		Commands: []*cli.Command{
			{
				Name:      "suggest",
				Usage:     "Suggest playlists for a liked track by shared genres and artists",
				Arguments: []cli.Argument{&cli.StringArg{Name: "track"}},
				Flags:     withJSON(),
				Action:    r.InsightsSuggest,
			},
			{
				Name:  "genres",
				Usage: "Rank genres by the number of cached tracks",
				Flags: withJSON(&cli.IntFlag{
					Name:  "limit",
					Usage: "Maximum number of genres to list",
					Value: 20,
				}),
				Action: r.InsightsGenres,
			},
		},
	}
}
