package schema

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// header holds the root fields of every tagged document (V1+).
type header struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	rootCore
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h header) validate(version int) error {
	if err := validation.ValidateStruct(&h,
		validation.Field(&h.Version, versionIs(version)),
		validation.Field(&h.ID, validation.Required),
	); err != nil {
		return err
	}
	return h.rootCore.validate(true)
}

// RelEndpoint addresses an item by ID (V1+).
type RelEndpoint struct {
	ItemID    string `json:"itemId"`
	Anchor    Point  `json:"anchor"`
	ArrowHead string `json:"arrowHead"`
}

func (e RelEndpoint) validate(items map[string]struct{}) error {
	if _, ok := items[e.ItemID]; !ok {
		return fmt.Errorf("itemId %q does not resolve", e.ItemID)
	}
	if err := validateAnchor(e.Anchor); err != nil {
		return fmt.Errorf("anchor: %w", err)
	}
	return validation.Validate(e.ArrowHead, validation.Required, stringIn(ArrowNone, ArrowPointed))
}

// ItemV1 introduces stable IDs, the tapestry foreign key and the
// webpage/video sub-types.
type ItemV1 struct {
	ID         string `json:"id"`
	TapestryID string `json:"tapestryId"`
	itemCore
	subTypes
	legacyTimes
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate validates the item.
func (i ItemV1) Validate() error {
	if err := validation.Validate(i.ID, validation.Required); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if err := i.itemCore.validate(typesV1); err != nil {
		return err
	}
	if err := i.subTypes.validate(); err != nil {
		return err
	}
	return i.legacyTimes.validate()
}

// RelV1 joins two items by ID.
type RelV1 struct {
	ID    string      `json:"id"`
	From  RelEndpoint `json:"from"`
	To    RelEndpoint `json:"to"`
	Color string      `json:"color,omitempty"`
}

func (r RelV1) validate(items map[string]struct{}) error {
	if r.ID == "" {
		return fmt.Errorf("id: cannot be blank")
	}
	if err := r.From.validate(items); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if err := r.To.validate(items); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	return nil
}

func validateRelsV1(rels []RelV1, items map[string]struct{}) error {
	ids := make([]string, len(rels))
	for i, r := range rels {
		if err := r.validate(items); err != nil {
			return fmt.Errorf("rels[%d]: %w", i, err)
		}
		ids[i] = r.ID
	}
	return uniqueIDs("rel", ids)
}

// DocumentV1 is the first tagged format.
type DocumentV1 struct {
	header
	Items []ItemV1 `json:"items"`
	Rels  []RelV1  `json:"rels"`
}

// Validate validates the document.
func (d DocumentV1) Validate() error {
	if err := d.header.validate(1); err != nil {
		return err
	}
	if err := validation.Validate(d.Items); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	ids := make([]string, len(d.Items))
	for i, it := range d.Items {
		ids[i] = it.ID
	}
	if err := uniqueIDs("item", ids); err != nil {
		return err
	}
	return validateRelsV1(d.Rels, idSet(ids))
}
