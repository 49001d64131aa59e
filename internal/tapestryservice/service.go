// Package tapestryservice coordinates the store, the blob store, the
// exporter and the importer for the API, the CLI and the MCP server.
package tapestryservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/starford/tapestry/internal/apperr"
	"github.com/starford/tapestry/internal/archive"
	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/exporter"
	"github.com/starford/tapestry/internal/importer"
	"github.com/starford/tapestry/internal/migrate"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
	"github.com/starford/tapestry/internal/store"
)

// Service is the application layer over tapestries and jobs.
type Service struct {
	graphs   store.GraphStore
	jobs     store.JobStore
	blobs    blob.Provider
	packager *exporter.Packager
	importer *importer.Reconstructor
	migrator *migrate.Engine
	logger   *slog.Logger
	kick     func()
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMigrator sets the migration engine used by Migrate.
func WithMigrator(m *migrate.Engine) Option {
	return func(s *Service) { s.migrator = m }
}

// WithWorkerKick registers fn, called after a job was enqueued so that a
// worker can pick it up without waiting for its next poll.
func WithWorkerKick(fn func()) Option {
	return func(s *Service) { s.kick = fn }
}

// NewService creates a new tapestry service.
func NewService(graphs store.GraphStore, jobs store.JobStore, blobs blob.Provider,
	packager *exporter.Packager, rec *importer.Reconstructor, opts ...Option) *Service {
	s := &Service{
		graphs:   graphs,
		jobs:     jobs,
		blobs:    blobs,
		packager: packager,
		importer: rec,
		migrator: migrate.New(),
		logger:   slog.Default(),
		kick:     func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListTapestries returns a page of tapestry summaries.
func (s *Service) ListTapestries(ctx context.Context, owner string, limit, offset int) ([]models.TapestrySummary, int, error) {
	return s.graphs.ListTapestries(ctx, owner, limit, offset)
}

// GetGraph returns a tapestry with all of its entities.
func (s *Service) GetGraph(ctx context.Context, id string) (*models.Graph, error) {
	return s.graphs.GetGraph(ctx, id)
}

// CreateTapestry creates a tapestry for owner from a current-schema manifest
// whose assets are all external. It goes through the import path, so every
// entity gets a fresh ID exactly as for an uploaded archive.
func (s *Service) CreateTapestry(ctx context.Context, owner string, m schema.Manifest) (string, error) {
	if m.Version == 0 {
		m.Version = schema.Current
	}
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("tapestryservice: %w: %v", apperr.ErrInvalidInput, err)
	}
	if refs := m.ArchiveRefs(); len(refs) > 0 {
		return "", fmt.Errorf("tapestryservice: %w: %s references an archive entry", apperr.ErrInvalidInput, refs[0].Field)
	}
	raw, err := m.Encode()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	entries := []archive.Entry{{Name: schema.RootEntry, Data: raw}}
	if err := archive.Write(ctx, &buf, entries, flate.BestSpeed, nil); err != nil {
		return "", fmt.Errorf("tapestryservice: pack manifest: %w", err)
	}
	job, err := importer.Enqueue(ctx, s.jobs, s.blobs, &buf, importer.Params{Type: models.JobImport, OwnerID: owner})
	if err != nil {
		return "", err
	}
	id, err := s.importer.Run(ctx, job.ID)
	if errors.Is(err, importer.ErrNotClaimed) {
		// A worker polled the job first.
		return s.awaitJob(ctx, job.ID)
	}
	return id, err
}

// awaitInterval is how often awaitJob polls a job run by a worker.
const awaitInterval = 100 * time.Millisecond

// awaitJob waits for job id to reach a terminal state and returns the
// tapestry it produced.
func (s *Service) awaitJob(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(awaitInterval)
	defer ticker.Stop()
	for {
		job, err := s.jobs.GetJob(ctx, id)
		if err != nil {
			return "", err
		}
		switch job.Status {
		case models.JobComplete:
			return job.TapestryID, nil
		case models.JobFailed:
			return "", &importer.Failure{Code: importer.Code(job.Error), Err: fmt.Errorf("job %s failed", id)}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// DeleteTapestry removes a tapestry and the blobs it hosts.
func (s *Service) DeleteTapestry(ctx context.Context, id string) error {
	g, err := s.graphs.GetGraph(ctx, id)
	if err != nil {
		return err
	}
	if err := s.graphs.DeleteTapestry(ctx, id); err != nil {
		return err
	}
	_, assets := exporter.Snapshot(g)
	for _, a := range assets {
		if err := s.blobs.Delete(ctx, a.Source); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("tapestryservice: delete blob failed", slog.String("key", a.Source), slog.String("error", err.Error()))
		}
	}
	s.logger.Info("tapestryservice: tapestry deleted", slog.String("id", id), slog.Int("blobs", len(assets)))
	return nil
}

// Export packages tapestry id and hands the archive to deliver. The archive
// file is removed once deliver returns.
func (s *Service) Export(ctx context.Context, id string, onProgress func(exporter.Progress), deliver func(exporter.Result, io.Reader) error) error {
	g, err := s.graphs.GetGraph(ctx, id)
	if err != nil {
		return err
	}
	return s.packager.Export(ctx, exporter.Request{
		Graph:      g,
		OnProgress: onProgress,
		OnSuccess: func(res exporter.Result) error {
			f, err := os.Open(res.Path)
			if err != nil {
				return err
			}
			defer f.Close()
			return deliver(res, f)
		},
	})
}

// ForkParams are the caller supplied parts of a fork.
type ForkParams struct {
	OwnerID     string
	Title       string
	Description string
}

// Fork exports tapestry id to the blob store and enqueues a fork job that
// imports it as a new tapestry with id as parent.
func (s *Service) Fork(ctx context.Context, id string, p ForkParams) (*models.Job, error) {
	g, err := s.graphs.GetGraph(ctx, id)
	if err != nil {
		return nil, err
	}
	key, err := s.packager.ExportToBlob(ctx, g, s.blobs, nil)
	if err != nil {
		return nil, fmt.Errorf("tapestryservice: fork export: %w", err)
	}
	owner := p.OwnerID
	if owner == "" {
		owner = g.Tapestry.OwnerID
	}
	job, err := importer.EnqueueKey(ctx, s.jobs, key, importer.Params{
		Type:        models.JobFork,
		OwnerID:     owner,
		ParentID:    id,
		Title:       p.Title,
		Description: p.Description,
	})
	if err != nil {
		_ = s.blobs.Delete(context.WithoutCancel(ctx), key)
		return nil, err
	}
	s.kick()
	return job, nil
}

// Import stores an uploaded archive and enqueues its import job.
func (s *Service) Import(ctx context.Context, r io.Reader, p importer.Params) (*models.Job, error) {
	if p.Type == "" {
		p.Type = models.JobImport
	}
	job, err := importer.Enqueue(ctx, s.jobs, s.blobs, r, p)
	if err != nil {
		return nil, err
	}
	s.kick()
	return job, nil
}

// RunJob runs job id in the calling goroutine.
func (s *Service) RunJob(ctx context.Context, id string) (string, error) {
	return s.importer.Run(ctx, id)
}

// GetJob returns a job record.
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// Migrate upgrades a raw root.json document to the current schema.
func (s *Service) Migrate(raw []byte) (*migrate.Result, error) {
	return s.migrator.ParseRoot(raw)
}
