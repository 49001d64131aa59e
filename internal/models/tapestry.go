// Package models defines the live domain types of the tapestry store.
package models

import (
	"time"

	"github.com/starford/tapestry/internal/schema"
)

// Tapestry is a canvas owned by one user.
type Tapestry struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Background  string            `json:"background,omitempty"`
	Theme       string            `json:"theme"`
	StartView   *schema.Rectangle `json:"start_view,omitempty"`
	// Thumbnail is a blob key when ThumbnailHosted is set, an external URL otherwise.
	Thumbnail       string    `json:"thumbnail,omitempty"`
	ThumbnailHosted bool      `json:"thumbnail_hosted,omitempty"`
	ParentID        string    `json:"parent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Item is a positioned element of a tapestry.
//
// For internally hosted media, Source and the thumbnail sources are blob keys.
type Item struct {
	ID               string            `json:"id"`
	TapestryID       string            `json:"tapestry_id"`
	GroupID          string            `json:"group_id,omitempty"`
	Type             schema.ItemType   `json:"type"`
	Title            string            `json:"title"`
	Position         schema.Point      `json:"position"`
	Size             schema.Size       `json:"size"`
	DropShadow       bool              `json:"drop_shadow"`
	Text             string            `json:"text,omitempty"`
	Source           string            `json:"source,omitempty"`
	InternallyHosted bool              `json:"internally_hosted,omitempty"`
	Thumbnail        *schema.Thumbnail `json:"thumbnail,omitempty"`
	CustomThumbnail  *schema.Thumbnail `json:"custom_thumbnail,omitempty"`
	WebpageType      string            `json:"webpage_type,omitempty"`
	VideoType        string            `json:"video_type,omitempty"`
	StartTime        *float64          `json:"start_time,omitempty"`
	StopTime         *float64          `json:"stop_time,omitempty"`
	Action           *schema.Action    `json:"action,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Rel connects two items of the same tapestry.
type Rel struct {
	ID         string             `json:"id"`
	TapestryID string             `json:"tapestry_id"`
	From       schema.RelEndpoint `json:"from"`
	To         schema.RelEndpoint `json:"to"`
	Color      string             `json:"color,omitempty"`
	Weight     string             `json:"weight"`
}

// Group bundles items.
type Group struct {
	ID            string `json:"id"`
	TapestryID    string `json:"tapestry_id"`
	Name          string `json:"name,omitempty"`
	Color         string `json:"color,omitempty"`
	HasBorder     bool   `json:"has_border,omitempty"`
	HasBackground bool   `json:"has_background,omitempty"`
}

// PresentationStep is one node of a tapestry's presentation order.
type PresentationStep struct {
	ID         string `json:"id"`
	TapestryID string `json:"tapestry_id"`
	ItemID     string `json:"item_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	PrevStepID string `json:"prev_step_id,omitempty"`
}

// Graph is a tapestry with every entity that belongs to it.
type Graph struct {
	Tapestry          Tapestry           `json:"tapestry"`
	Items             []Item             `json:"items"`
	Rels              []Rel              `json:"rels"`
	Groups            []Group            `json:"groups"`
	PresentationSteps []PresentationStep `json:"presentation_steps"`
}

// TapestrySummary is the lightweight row returned by list operations.
type TapestrySummary struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Items     int       `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}
