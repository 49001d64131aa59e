// Package inbox turns archives dropped into a directory into import jobs.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/importer"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/store"
)

// DefaultSettle is how long a file must stay unchanged before it is picked up.
const DefaultSettle = 500 * time.Millisecond

// EnqueuedCallback is called after an archive became a job.
type EnqueuedCallback func(job models.Job)

// Inbox watches a directory for .zip archives.
type Inbox struct {
	dir    string
	owner  string
	jobs   store.JobStore
	blobs  blob.Provider
	logger *slog.Logger
	settle time.Duration
	cb     EnqueuedCallback
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithSettle sets how long writes to a file must pause before it is enqueued.
func WithSettle(d time.Duration) Option {
	return func(in *Inbox) { in.settle = d }
}

// WithCallback registers cb, called for every enqueued job.
func WithCallback(cb EnqueuedCallback) Option {
	return func(in *Inbox) { in.cb = cb }
}

// New creates an inbox on dir. Jobs are created for owner.
func New(dir, owner string, jobs store.JobStore, blobs blob.Provider, opts ...Option) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("inbox: create dir: %w", err)
	}
	in := &Inbox{
		dir:    dir,
		owner:  owner,
		jobs:   jobs,
		blobs:  blobs,
		logger: slog.Default(),
		settle: DefaultSettle,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Watch enqueues archives already present in the directory, then watches it
// until ctx is cancelled.
func (in *Inbox) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", in.dir, err)
	}
	in.logger.Info("inbox: started", slog.String("dir", in.dir))

	if err := in.Scan(ctx); err != nil {
		in.logger.Warn("inbox: initial scan failed", slog.String("error", err.Error()))
	}

	// Files are enqueued once they stopped changing for the settle period.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(in.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("inbox: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isArchive(ev.Name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[ev.Name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, ev.Name)
			}

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < in.settle {
					continue
				}
				delete(pending, path)
				if err := in.enqueue(ctx, path); err != nil {
					in.logger.Warn("inbox: enqueue failed", slog.String("path", path), slog.String("error", err.Error()))
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("inbox: error", slog.String("error", watchErr.Error()))
		}
	}
}

// Scan enqueues every archive currently in the directory.
func (in *Inbox) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("inbox: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isArchive(e.Name()) {
			continue
		}
		path := filepath.Join(in.dir, e.Name())
		if err := in.enqueue(ctx, path); err != nil {
			in.logger.Warn("inbox: enqueue failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// enqueue uploads the archive at path, creates its job and removes the file.
func (in *Inbox) enqueue(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	info, _ := f.Stat()
	job, err := importer.Enqueue(ctx, in.jobs, in.blobs, f, importer.Params{
		Type:    models.JobImport,
		OwnerID: in.owner,
	})
	f.Close()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		in.logger.Warn("inbox: remove failed", slog.String("path", path), slog.String("error", err.Error()))
	}

	attrs := []any{slog.String("path", path), slog.String("job", job.ID)}
	if info != nil {
		attrs = append(attrs, slog.String("size", humanize.Bytes(uint64(info.Size()))))
	}
	in.logger.Info("inbox: enqueued", attrs...)
	if in.cb != nil {
		in.cb(*job)
	}
	return nil
}

func isArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
