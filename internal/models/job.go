package models

import "time"

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobFailed     JobStatus = "failed"
)

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool {
	return s == JobComplete || s == JobFailed
}

// JobType tells an archive uploaded by a user from one produced by a fork.
type JobType string

const (
	JobImport JobType = "import"
	JobFork   JobType = "fork"
)

// Job is the durable record of an import, polled by clients.
type Job struct {
	ID       string    `json:"id"`
	Type     JobType   `json:"type"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	OwnerID  string    `json:"owner_id"`
	// TapestryID is set once the import completes.
	TapestryID string `json:"tapestry_id,omitempty"`
	// ParentID is the forked tapestry.
	ParentID    string `json:"parent_id,omitempty"`
	ArchiveKey  string `json:"archive_key,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// Error holds the failure code of a failed job.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
