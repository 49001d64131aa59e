package store

import (
	"context"

	"github.com/starford/tapestry/internal/models"
)

// GraphStore defines the tapestry operations of the store. Consumers should
// depend on this interface rather than the concrete *DB type.
type GraphStore interface {
	WithTx(ctx context.Context, fn func(*Tx) error) error
	CreateGraph(ctx context.Context, g models.Graph) error
	GetGraph(ctx context.Context, id string) (*models.Graph, error)
	ListTapestries(ctx context.Context, owner string, limit, offset int) ([]models.TapestrySummary, int, error)
	DeleteTapestry(ctx context.Context, id string) error
}

// JobStore defines the job operations of the store.
type JobStore interface {
	CreateJob(ctx context.Context, j models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	PendingJobs(ctx context.Context, limit int) ([]models.Job, error)
	ClaimJob(ctx context.Context, id string) (bool, error)
	UpdateJobProgress(ctx context.Context, id string, progress float64) error
	FinishJob(ctx context.Context, id string, status models.JobStatus, tapestryID, code string) error
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ GraphStore = (*DB)(nil)
	_ JobStore   = (*DB)(nil)
)
