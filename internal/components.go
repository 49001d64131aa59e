package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/exporter"
	"github.com/starford/tapestry/internal/importer"
	"github.com/starford/tapestry/internal/migrate"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/store"
	"github.com/starford/tapestry/internal/tapestryservice"
)

// components are the long lived parts shared by every command.
type components struct {
	cfg      *Config
	logger   *slog.Logger
	graphs   *store.DB
	jobs     *store.DB
	blobs    blob.Provider
	fs       *blob.FS // nil unless the fs backend is configured
	migrator *migrate.Engine
	packager *exporter.Packager
	importer *importer.Reconstructor
	svc      *tapestryservice.Service
	closers  []io.Closer
}

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logger == nil {
		// Initialize structured JSON logger.
		app.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	return app, nil
}

// openComponents opens the stores and builds the services. notify receives
// every job change of the import reconstructor; kick wakes the worker.
func openComponents(ctx context.Context, cfg *Config, logger *slog.Logger, notify func(models.Job), kick func()) (*components, error) {
	c := &components{cfg: cfg, logger: logger, migrator: migrate.New()}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var err error
	dialect := cfg.Database.Dialect()
	c.graphs, err = store.Open(dialect, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	c.closers = append(c.closers, c.graphs)

	c.jobs, err = store.Open(dialect, cfg.Database.JobsSource())
	if err != nil {
		return nil, fmt.Errorf("init jobs store: %w", err)
	}
	c.closers = append(c.closers, c.jobs)

	switch cfg.Blob.Backend {
	case BlobBackendGCS:
		gcs, err := blob.NewGCS(ctx, cfg.Blob.GCS.Bucket, cfg.Blob.GCS.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("init gcs: %w", err)
		}
		c.blobs = gcs
		c.closers = append(c.closers, gcs)
	default:
		baseURL := strings.TrimRight(cfg.App.PublicURL, "/") + "/blobs"
		c.fs, err = blob.NewFS(cfg.Blob.Path, baseURL, cfg.Blob.Secret)
		if err != nil {
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		c.blobs = c.fs
	}

	var fetcher exporter.Fetcher
	if cfg.Export.Fetcher == FetcherHTTP {
		fetcher = exporter.NewHTTPFetcher(c.blobs, cfg.Blob.URLTTL, cfg.Export.FetchTimeout, cfg.Export.Retries, logger)
	} else {
		fetcher = exporter.BlobFetcher{Store: c.blobs}
	}
	c.packager = exporter.New(fetcher,
		exporter.WithLogger(logger),
		exporter.WithCompressionLevel(cfg.Export.Compression),
	)

	recOpts := []importer.Option{
		importer.WithLogger(logger),
		importer.WithTxTimeout(cfg.Import.TxTimeout),
		importer.WithMigrator(c.migrator),
	}
	if notify != nil {
		recOpts = append(recOpts, importer.WithNotifier(notify))
	}
	c.importer = importer.New(c.graphs, c.jobs, c.blobs, recOpts...)

	svcOpts := []tapestryservice.Option{
		tapestryservice.WithLogger(logger),
		tapestryservice.WithMigrator(c.migrator),
	}
	if kick != nil {
		svcOpts = append(svcOpts, tapestryservice.WithWorkerKick(kick))
	}
	c.svc = tapestryservice.NewService(c.graphs, c.jobs, c.blobs, c.packager, c.importer, svcOpts...)

	ok = true
	return c, nil
}

// ready reports whether both databases answer.
func (c *components) ready(ctx context.Context) error {
	return errors.Join(c.graphs.Ping(ctx), c.jobs.Ping(ctx))
}

// Close releases the stores in reverse order of opening.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			c.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}
