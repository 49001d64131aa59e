package importer

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/store"
)

// ArchivePrefix is the blob prefix of uploaded archives awaiting import.
const ArchivePrefix = "archives/"

// Params are the caller supplied parts of an import job.
type Params struct {
	Type        models.JobType
	OwnerID     string
	ParentID    string
	Title       string
	Description string
}

// Enqueue stores the archive read from r and creates a pending import job
// for it.
func Enqueue(ctx context.Context, jobs store.JobStore, blobs blob.Provider, r io.Reader, p Params) (*models.Job, error) {
	key := ArchivePrefix + uuid.NewString() + ".zip"
	if _, err := blobs.Put(ctx, key, r, "application/zip"); err != nil {
		return nil, fmt.Errorf("importer: store archive: %w", err)
	}
	job, err := EnqueueKey(ctx, jobs, key, p)
	if err != nil {
		_ = blobs.Delete(context.WithoutCancel(ctx), key)
		return nil, err
	}
	return job, nil
}

// EnqueueKey creates a pending import job for an archive already in the
// blob store.
func EnqueueKey(ctx context.Context, jobs store.JobStore, key string, p Params) (*models.Job, error) {
	if p.Type == "" {
		p.Type = models.JobImport
	}
	job := models.Job{
		ID:          uuid.NewString(),
		Type:        p.Type,
		Status:      models.JobPending,
		OwnerID:     p.OwnerID,
		ParentID:    p.ParentID,
		ArchiveKey:  key,
		Title:       p.Title,
		Description: p.Description,
	}
	if err := jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("importer: create job: %w", err)
	}
	return jobs.GetJob(ctx, job.ID)
}
