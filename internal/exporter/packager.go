// Package exporter packages a live tapestry and its hosted assets into a
// portable archive.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tapestry/internal/archive"
	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/metrics"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
)

// ErrInvalidManifest is returned when the snapshot of a live tapestry does
// not satisfy the current schema.
var ErrInvalidManifest = errors.New("exporter: invalid manifest")

// ArchivePrefix is the blob key prefix of archives written by ExportToBlob.
const ArchivePrefix = "archives/"

// Result is a finished archive.
type Result struct {
	// Path is the temporary archive file. It is removed once OnSuccess returns.
	Path     string
	Title    string
	Size     int64
	Manifest schema.Manifest
}

// Request is one export.
type Request struct {
	Graph *models.Graph
	// OnProgress may be called concurrently and arbitrarily often.
	OnProgress func(Progress)
	// OnSuccess receives the archive. Its error is returned by Export.
	OnSuccess func(Result) error
	// OnError receives the failure of an export that did not produce an archive.
	OnError func(error)
}

// Option configures a Packager.
type Option func(*Packager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Packager) { p.logger = l }
}

// WithTempDir sets the directory for temporary archives.
func WithTempDir(dir string) Option {
	return func(p *Packager) { p.tmpDir = dir }
}

// WithCompressionLevel sets the flate level of archive entries.
func WithCompressionLevel(level int) Option {
	return func(p *Packager) { p.level = level }
}

// Packager produces archives.
type Packager struct {
	fetcher Fetcher
	logger  *slog.Logger
	tmpDir  string
	level   int
}

// New creates a Packager that downloads assets with fetcher.
func New(fetcher Fetcher, opts ...Option) *Packager {
	p := &Packager{
		fetcher: fetcher,
		logger:  slog.Default(),
		level:   flate.DefaultCompression,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type fetched struct {
	data []byte
	err  error
}

// Export packages req.Graph. A failed asset download never fails the export:
// a thumbnail is dropped from the manifest, a media source is replaced by an
// empty entry. Any other failure cancels all pending work and is reported
// through OnError.
func (p *Packager) Export(ctx context.Context, req Request) (err error) {
	delivered := false
	defer func() {
		switch {
		case err == nil:
			metrics.ExportsTotal.WithLabelValues("success").Inc()
		case !delivered:
			metrics.ExportsTotal.WithLabelValues("error").Inc()
			if req.OnError != nil {
				req.OnError(err)
			}
		}
	}()

	if req.Graph == nil {
		return fmt.Errorf("exporter: no graph")
	}
	manifest, assets := Snapshot(req.Graph)
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	logger := p.logger.With(slog.String("tapestry", manifest.ID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := p.fetchAll(ctx, assets, req.OnProgress)
	if err != nil {
		return err
	}

	var entries []archive.Entry
	var total int64
	for i, a := range assets {
		res := results[i]
		switch {
		case res.err == nil:
			entries = append(entries, archive.Entry{Name: a.Entry, Data: res.data, Modified: manifest.UpdatedAt})
			total += int64(len(res.data))
		case !a.Ref.Field.Required():
			manifest = manifest.WithAsset(a.Ref, "")
			metrics.ExportAssetFailures.WithLabelValues(string(a.Ref.Field), "dropped").Inc()
			logger.Warn("exporter: thumbnail dropped",
				slog.String("entry", a.Entry), slog.String("error", res.err.Error()))
		default:
			entries = append(entries, archive.Entry{Name: a.Entry, Modified: manifest.UpdatedAt})
			metrics.ExportAssetFailures.WithLabelValues(string(a.Ref.Field), "placeholder").Inc()
			logger.Warn("exporter: source replaced by placeholder",
				slog.String("entry", a.Entry), slog.String("error", res.err.Error()))
		}
	}

	root, err := manifest.Encode()
	if err != nil {
		return err
	}
	entries = append(entries, archive.Entry{Name: schema.RootEntry, Data: root, Modified: manifest.UpdatedAt})
	total += int64(len(root))

	path, size, err := p.write(ctx, entries, total, req.OnProgress)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	metrics.ExportBytes.Observe(float64(size))
	logger.Info("exporter: archive written",
		slog.Int("entries", len(entries)), slog.String("size", humanize.Bytes(uint64(size))))

	delivered = true
	if req.OnSuccess == nil {
		return nil
	}
	if err := req.OnSuccess(Result{Path: path, Title: manifest.Title, Size: size, Manifest: manifest}); err != nil {
		return fmt.Errorf("exporter: deliver: %w", err)
	}
	return nil
}

// fetchAll downloads every asset concurrently. Per-asset failures are
// returned in the result slice; the error is set only for unrecoverable
// failures, after all pending downloads were cancelled.
func (p *Packager) fetchAll(ctx context.Context, assets []Asset, onProgress func(Progress)) ([]fetched, error) {
	results := make([]fetched, len(assets))
	progress := newTracker(PhaseDownload, onProgress)
	for _, a := range assets {
		progress.add(a.Entry, -1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range assets {
		g.Go(func() error {
			data, err := p.fetcher.Fetch(gctx, a, func(done, total int64) {
				progress.set(a.Entry, done, total)
			})
			if err == nil {
				results[i] = fetched{data: data}
				return nil
			}
			var fe *FetchError
			if !errors.As(err, &fe) || gctx.Err() != nil {
				return err
			}
			progress.finish(a.Entry)
			results[i] = fetched{err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("exporter: fetch: %w", err)
	}
	return results, nil
}

func (p *Packager) write(ctx context.Context, entries []archive.Entry, total int64, onProgress func(Progress)) (string, int64, error) {
	f, err := os.CreateTemp(p.tmpDir, "tapestry-export-*.zip")
	if err != nil {
		return "", 0, fmt.Errorf("exporter: create archive: %w", err)
	}
	path := f.Name()

	progress := newTracker(PhaseCompress, onProgress)
	progress.add("archive", total)
	err = archive.Write(ctx, f, entries, p.level, func(delta int64) { progress.advance("archive", delta) })
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("exporter: write archive: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("exporter: stat archive: %w", err)
	}
	return path, info.Size(), nil
}

// ExportToBlob exports g and stores the archive in store under a fresh key
// below ArchivePrefix. It returns the key.
func (p *Packager) ExportToBlob(ctx context.Context, g *models.Graph, store blob.Provider, onProgress func(Progress)) (string, error) {
	key := ArchivePrefix + uuid.NewString() + ".zip"
	err := p.Export(ctx, Request{
		Graph:      g,
		OnProgress: onProgress,
		OnSuccess: func(res Result) error {
			f, err := os.Open(res.Path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = store.Put(ctx, key, f, "application/zip")
			return err
		},
	})
	if err != nil {
		return "", err
	}
	return key, nil
}
