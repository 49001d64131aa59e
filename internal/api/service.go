package api

import (
	"context"
	"io"

	"github.com/starford/tapestry/internal/exporter"
	"github.com/starford/tapestry/internal/importer"
	"github.com/starford/tapestry/internal/migrate"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
	"github.com/starford/tapestry/internal/tapestryservice"
)

// Service is what the handlers need from the application layer.
type Service interface {
	ListTapestries(ctx context.Context, owner string, limit, offset int) ([]models.TapestrySummary, int, error)
	GetGraph(ctx context.Context, id string) (*models.Graph, error)
	CreateTapestry(ctx context.Context, owner string, m schema.Manifest) (string, error)
	DeleteTapestry(ctx context.Context, id string) error
	Export(ctx context.Context, id string, onProgress func(exporter.Progress), deliver func(exporter.Result, io.Reader) error) error
	Fork(ctx context.Context, id string, p tapestryservice.ForkParams) (*models.Job, error)
	Import(ctx context.Context, r io.Reader, p importer.Params) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	Migrate(raw []byte) (*migrate.Result, error)
}

var _ Service = (*tapestryservice.Service)(nil)
