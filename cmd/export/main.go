// Command export reconciles the relational store, the document logs and the
// resource caches into a self-describing export bundle.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/quire/internal"
	"github.com/starford/quire/internal/export"
	pkgconfig "github.com/starford/quire/pkg/config"
)

func run(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd.Root().ErrWriter, cmd.String("log-level"))
	if err != nil {
		return err
	}

	cfg := export.Config{
		DBPath:          cmd.String("db"),
		DocRoot:         cmd.String("rte"),
		OutPath:         cmd.String("out"),
		Limit:           int(cmd.Int("limit")),
		Resources:       cmd.String("resources"),
		LegacyResources: cmd.StringSlice("legacy-resources"),
		AssetsDir:       cmd.String("assets"),
		Workers:         int(cmd.Int("workers")),
		Logger:          logger,
	}
	if path := cmd.String("config"); path != "" {
		if err := fromAppConfig(path, &cfg); err != nil {
			return err
		}
	}

	res, err := export.Run(ctx, cfg)
	if err != nil {
		return err
	}
	printSummary(cmd.Root().Writer, res)
	return nil
}

// fromAppConfig fills unset paths from the daemon configuration so an export
// can run against the same store without repeating every flag. Resource roots
// are only taken when --assets asks for an attachment copy.
func fromAppConfig(path string, cfg *export.Config) error {
	app := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(path, app); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.Store.Path
	}
	if cfg.DocRoot == "" {
		cfg.DocRoot = app.Documents.Root
	}
	if cfg.AssetsDir != "" && cfg.Resources == "" && len(app.Assets.ResourceRoots) > 0 {
		roots := app.Assets.Roots()
		cfg.Resources = roots[0]
		if len(cfg.LegacyResources) == 0 {
			cfg.LegacyResources = roots[1:]
		}
	}
	return nil
}

func printSummary(w io.Writer, res *export.Result) {
	c := res.Manifest.Meta.Counts
	fmt.Fprintf(w, "manifest: %s\n", res.ManifestPath)
	fmt.Fprintf(w, "stacks=%d notebooks=%d tags=%d notes=%d trashed=%d\n",
		c.Stacks, c.Notebooks, c.Tags, c.Notes, c.Trashed)
	fmt.Fprintf(w, "documents: found=%d missing=%d decode_errors=%d\n",
		c.DocumentsFound, c.DocumentsMissing, c.DecodeErrors)
	fmt.Fprintf(w, "attachments: total=%d copied=%d missing=%d copy_failed=%d invalid=%d\n",
		c.Attachments, c.AttachmentsCopied, c.AttachmentsMissing, c.CopyFailures, c.AttachmentsInvalid)
	fmt.Fprintf(w, "dangling_links=%d\n", c.DanglingLinks)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:   "quire-export",
		Usage:  "Export notes, hierarchy and attachments into a portable bundle",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the relational store (SQLite)",
				Sources: cli.EnvVars("QUIRE_DB"),
			},
			&cli.StringFlag{
				Name:    "rte",
				Usage:   "Document-log root",
				Sources: cli.EnvVars("QUIRE_RTE"),
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Manifest output path; its directory becomes the export root",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Export at most N notes (0 for all)",
			},
			&cli.StringFlag{
				Name:    "resources",
				Usage:   "Per-note resource cache root; requires --assets",
				Sources: cli.EnvVars("QUIRE_RESOURCES"),
			},
			&cli.StringSliceFlag{
				Name:  "legacy-resources",
				Usage: "Fallback resource roots searched after --resources (repeatable)",
			},
			&cli.StringFlag{
				Name:  "assets",
				Usage: "Destination asset directory; requires --resources",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Parallel decode and copy workers",
				Value: export.DefaultWorkers,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Diagnostic log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional daemon config supplying --db, --rte and resource roots",
				Sources: cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		var fatal *export.FatalError
		if errors.As(err, &fatal) {
			slog.Error("export failed", slog.String("phase", string(fatal.Phase)), slog.String("error", fatal.Err.Error()))
		} else {
			slog.Error("export failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
