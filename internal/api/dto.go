package api

import (
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
)

// CreateTapestryRequest is the request body for creating a tapestry.
type CreateTapestryRequest struct {
	OwnerID  string          `json:"owner_id" example:"alice" validate:"required"`
	Manifest schema.Manifest `json:"manifest" validate:"required"`
}

// CreateTapestryResponse is returned after a tapestry was created.
type CreateTapestryResponse struct {
	ID string `json:"id" example:"5f0c..." validate:"required"`
}

// ForkRequest is the request body for forking a tapestry.
type ForkRequest struct {
	OwnerID     string `json:"owner_id,omitempty" example:"bob"`
	Title       string `json:"title,omitempty" example:"Trip (copy)"`
	Description string `json:"description,omitempty"`
}

// TapestryListResponse wraps paginated tapestry listings.
type TapestryListResponse struct {
	Tapestries []models.TapestrySummary `json:"tapestries" validate:"required"`
	Total      int                      `json:"total" example:"42" validate:"required"`
}

// MigrateResponse is the upgraded manifest and where it came from.
type MigrateResponse struct {
	From     int             `json:"from" example:"0" validate:"required"`
	Upgrades int             `json:"upgrades" example:"6" validate:"required"`
	Manifest schema.Manifest `json:"manifest" validate:"required"`
}
