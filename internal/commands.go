package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/starford/tapestry/internal/exporter"
	"github.com/starford/tapestry/internal/importer"
	"github.com/starford/tapestry/internal/mcpserver"
	"github.com/starford/tapestry/internal/migrate"
	"github.com/starford/tapestry/internal/models"
)

// Export writes tapestry id as an archive to the file out.
func Export(ctx context.Context, id, out string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := openComponents(ctx, app.config, app.logger, nil, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	var last string
	onProgress := func(p exporter.Progress) {
		if p.Pending {
			return
		}
		pct := fmt.Sprintf("%s %.0f%%", p.Phase, 100*p.Fraction())
		if pct != last {
			last = pct
			app.logger.Debug("export: progress", slog.String("phase", p.Phase), slog.Float64("fraction", p.Fraction()))
		}
	}

	return c.svc.Export(ctx, id, onProgress, func(res exporter.Result, body io.Reader) error {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", out, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "exported %q to %s (%s)\n", res.Title, out, humanize.Bytes(uint64(res.Size)))
		return nil
	})
}

// Import enqueues the archive at path for owner and runs the job in the
// foreground. It prints the ID of the new tapestry.
func Import(ctx context.Context, path string, p importer.Params, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	notify := func(job models.Job) {
		app.logger.Debug("import: job changed",
			slog.String("job", job.ID),
			slog.String("status", string(job.Status)),
			slog.Float64("progress", job.Progress))
	}
	c, err := openComponents(ctx, app.config, app.logger, notify, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	job, err := c.svc.Import(ctx, f, p)
	if err != nil {
		return err
	}
	id, err := c.svc.RunJob(ctx, job.ID)
	if err != nil {
		if code := importer.CodeOf(err); code != "" {
			return fmt.Errorf("import failed (%s): %w", code, err)
		}
		return err
	}
	fmt.Fprintln(app.out, id)
	return nil
}

// Migrate upgrades the root.json document at path to the current schema and
// prints it. It needs no stores.
func Migrate(path string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	res, err := migrate.New().ParseRoot(raw)
	if err != nil {
		return err
	}
	out, err := res.Manifest.Encode()
	if err != nil {
		return err
	}
	app.logger.Info("migrate: upgraded", slog.Int("from", res.From), slog.Int("upgrades", res.Upgrades))
	_, err = fmt.Fprintln(app.out, string(out))
	return err
}

// ServeMCP serves the MCP tools on stdin/stdout. Fork jobs are run by a
// worker in the background for as long as the server lives.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	var worker *importer.Worker
	kick := func() {
		if worker != nil {
			worker.Notify()
		}
	}
	c, err := openComponents(ctx, app.config, app.logger, nil, kick)
	if err != nil {
		return err
	}
	defer c.Close()

	worker = importer.NewWorker(c.importer, c.jobs, app.config.Import.PollInterval, app.logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = worker.Run(ctx)
	}()

	srv := mcpserver.New(c.svc, app.config.Import.Owner)
	return srv.ServeStdio()
}
