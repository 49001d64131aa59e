// Package importer reconstructs tapestries from archives: it migrates the
// manifest to the current schema, re-hosts the archived assets and writes a
// fresh copy of the graph in one transaction.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/starford/tapestry/internal/archive"
	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/metrics"
	"github.com/starford/tapestry/internal/migrate"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
	"github.com/starford/tapestry/internal/store"
)

// DefaultTxTimeout bounds the reconstruction transaction. It is long because
// every archived asset is uploaded inside it.
const DefaultTxTimeout = 3 * time.Hour

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconstructor) { r.logger = l }
}

// WithTxTimeout sets the transaction timeout.
func WithTxTimeout(d time.Duration) Option {
	return func(r *Reconstructor) { r.txTimeout = d }
}

// WithMigrator sets the migration engine.
func WithMigrator(m *migrate.Engine) Option {
	return func(r *Reconstructor) { r.migrator = m }
}

// WithIDs sets the generator of fresh entity IDs.
func WithIDs(newID func() string) Option {
	return func(r *Reconstructor) { r.newID = newID }
}

// WithClock sets the clock used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconstructor) { r.now = now }
}

// WithNotifier registers a callback invoked after every job change.
func WithNotifier(fn func(models.Job)) Option {
	return func(r *Reconstructor) { r.notify = fn }
}

// Reconstructor runs import jobs.
type Reconstructor struct {
	graphs    store.GraphStore
	jobs      store.JobStore
	blobs     blob.Provider
	logger    *slog.Logger
	txTimeout time.Duration
	migrator  *migrate.Engine
	newID     func() string
	now       func() time.Time
	notify    func(models.Job)
}

// New creates a Reconstructor. graphs and jobs may be the same store, but
// with SQLite they must be different databases: job progress is written
// while the reconstruction transaction holds the write lock of graphs.
func New(graphs store.GraphStore, jobs store.JobStore, blobs blob.Provider, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		graphs:    graphs,
		jobs:      jobs,
		blobs:     blobs,
		logger:    slog.Default(),
		txTimeout: DefaultTxTimeout,
		migrator:  migrate.New(),
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
		notify:    func(models.Job) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run claims the pending job jobID and reconstructs its archive. It returns
// the new tapestry ID. Import failures are recorded on the job and returned
// as *Failure; the archive object is deleted in every case once the job was
// claimed.
func (r *Reconstructor) Run(ctx context.Context, jobID string) (string, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("importer: load job: %w", err)
	}
	claimed, err := r.jobs.ClaimJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("importer: claim job: %w", err)
	}
	if !claimed {
		return "", ErrNotClaimed
	}
	job.Status = models.JobProcessing
	r.notify(*job)

	logger := r.logger.With(slog.String("job", job.ID), slog.String("type", string(job.Type)))
	logger.Info("importer: started", slog.String("archive", job.ArchiveKey))
	started := time.Now()

	defer r.deleteArchive(ctx, logger, job.ArchiveKey)

	tapestryID, err := r.reconstruct(ctx, logger, job)
	metrics.ImportDuration.Observe(time.Since(started).Seconds())

	// The job must reach a terminal state even when ctx is done.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		code := CodeOf(err)
		if code == "" {
			err = fail(CodeTransaction, err)
			code = CodeTransaction
		}
		metrics.ImportsTotal.WithLabelValues(string(code)).Inc()
		logger.Warn("importer: failed", slog.String("code", string(code)), slog.String("error", err.Error()))
		if ferr := r.jobs.FinishJob(finishCtx, job.ID, models.JobFailed, "", string(code)); ferr != nil {
			logger.Error("importer: record failure", slog.String("error", ferr.Error()))
		}
		job.Status, job.Progress, job.Error = models.JobFailed, 1, string(code)
		r.notify(*job)
		return "", err
	}

	if ferr := r.jobs.FinishJob(finishCtx, job.ID, models.JobComplete, tapestryID, ""); ferr != nil {
		return "", fmt.Errorf("importer: record completion: %w", ferr)
	}
	metrics.ImportsTotal.WithLabelValues(string(models.JobComplete)).Inc()
	logger.Info("importer: complete",
		slog.String("tapestry", tapestryID), slog.String("took", time.Since(started).Round(time.Millisecond).String()))
	job.Status, job.Progress, job.TapestryID = models.JobComplete, 1, tapestryID
	r.notify(*job)
	return tapestryID, nil
}

func (r *Reconstructor) reconstruct(ctx context.Context, logger *slog.Logger, job *models.Job) (string, error) {
	rc, obj, err := r.blobs.Get(ctx, job.ArchiveKey)
	if err != nil {
		return "", fail(CodeArchiveUnreadable, err)
	}
	arc, err := archive.Spool(ctx, rc)
	rc.Close()
	if err != nil {
		return "", fail(CodeArchiveUnreadable, err)
	}
	defer arc.Close()
	logger.Debug("importer: archive opened",
		slog.String("size", humanize.Bytes(uint64(max(obj.Size, arc.Size())))), slog.Int("entries", len(arc.Names())))

	raw, err := arc.ReadFile(schema.RootEntry)
	if errors.Is(err, archive.ErrEntryNotFound) {
		return "", fail(CodeRootNotFound, err)
	}
	if err != nil {
		return "", fail(CodeArchiveUnreadable, err)
	}

	parsed, err := r.migrator.ParseRoot(raw)
	if err != nil {
		if errors.Is(err, migrate.ErrUnrecognized) {
			return "", fail(CodeUnrecognizedVersion, err)
		}
		return "", fail(CodeInvalidManifest, err)
	}
	metrics.MigrationsTotal.WithLabelValues(strconv.Itoa(parsed.From)).Inc()
	if parsed.Upgrades > 0 {
		logger.Info("importer: manifest migrated",
			slog.Int("from", parsed.From), slog.Int("to", schema.Current))
	}

	m := parsed.Manifest
	if err := m.Validate(); err != nil {
		return "", fail(CodeInvalidManifest, err)
	}
	if err := checkEntries(m, arc.Reader); err != nil {
		return "", err
	}

	refs := m.ArchiveRefs()
	p := &progress{
		r:     r,
		job:   job,
		units: 1 + len(refs),
	}

	txCtx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	var uploaded []string
	var tapestryID string
	err = r.graphs.WithTx(txCtx, func(tx *store.Tx) error {
		var err error
		tapestryID, err = r.materialize(txCtx, tx, materialization{
			job:      job,
			manifest: m,
			refs:     refs,
			archive:  arc.Reader,
			uploaded: &uploaded,
			progress: p,
		})
		return err
	})
	if err != nil {
		r.compensate(ctx, logger, uploaded)
		return "", fail(CodeTransaction, err)
	}
	return tapestryID, nil
}

// checkEntries makes sure every archive reference, thumbnails included,
// names an existing entry.
func checkEntries(m schema.Manifest, arc *archive.Reader) error {
	for _, ref := range m.ArchiveRefs() {
		entry, _ := schema.ArchiveEntry(ref.Value)
		if !arc.Has(entry) {
			return fail(CodeMissingEntry, fmt.Errorf("%w: %s (%s)", archive.ErrEntryNotFound, entry, ref.Field))
		}
	}
	return nil
}

// compensate deletes the blobs uploaded by a rolled back reconstruction.
func (r *Reconstructor) compensate(ctx context.Context, logger *slog.Logger, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := r.blobs.Delete(ctx, key); err != nil {
			metrics.CompensationDeletes.WithLabelValues("error").Inc()
			logger.Error("importer: compensation delete failed", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		metrics.CompensationDeletes.WithLabelValues("success").Inc()
	}
	if len(keys) > 0 {
		logger.Info("importer: uploads compensated", slog.Int("count", len(keys)))
	}
}

func (r *Reconstructor) deleteArchive(ctx context.Context, logger *slog.Logger, key string) {
	if key == "" {
		return
	}
	if err := r.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn("importer: delete archive failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// progress persists reconstruction progress as done/units.
type progress struct {
	r     *Reconstructor
	job   *models.Job
	units int
	done  int
}

func (p *progress) step(ctx context.Context) {
	p.done++
	p.job.Progress = float64(p.done) / float64(p.units)
	if err := p.r.jobs.UpdateJobProgress(context.WithoutCancel(ctx), p.job.ID, p.job.Progress); err != nil {
		p.r.logger.Warn("importer: persist progress failed", slog.String("job", p.job.ID), slog.String("error", err.Error()))
	}
	p.r.notify(*p.job)
}
