package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tapestry/internal"
	"github.com/starford/tapestry/internal/importer"
	pkgconfig "github.com/starford/tapestry/pkg/config"
)

func loadConfig(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return []internal.Option{internal.WithConfig(cfg)}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func export(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.String("out")
	if out == "" {
		out = cmd.String("tapestry") + ".zip"
	}
	return internal.Export(ctx, cmd.String("tapestry"), out, opts...)
}

func importArchive(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: %s <archive.zip>", cmd.FullName())
	}
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Import(ctx, cmd.Args().First(), importer.Params{
		OwnerID:     cmd.String("owner"),
		Title:       cmd.String("title"),
		Description: cmd.String("description"),
	}, opts...)
}

func migrate(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: %s <root.json>", cmd.FullName())
	}
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Migrate(cmd.Args().First(), opts...)
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "tapestry",
		Usage:  "Tapestry archive interchange: export, import, fork and schema migration",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the import worker and the inbox watcher",
				Action: serve,
			},
			{
				Name:   "export",
				Usage:  "Write a tapestry archive to a file",
				Action: export,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tapestry", Aliases: []string{"t"}, Usage: "Tapestry ID", Required: true},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default <id>.zip)"},
				},
			},
			{
				Name:      "import",
				Usage:     "Import an archive and print the new tapestry ID",
				ArgsUsage: "<archive.zip>",
				Action:    importArchive,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "Owner of the new tapestry", Value: "local", Sources: cli.EnvVars("TAPESTRY_OWNER")},
					&cli.StringFlag{Name: "title", Usage: "Title override"},
					&cli.StringFlag{Name: "description", Usage: "Description override"},
				},
			},
			{
				Name:      "migrate",
				Usage:     "Print a root.json document upgraded to the current schema",
				ArgsUsage: "<root.json>",
				Action:    migrate,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdin/stdout",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
