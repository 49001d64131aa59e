package schema

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ItemV2 adds the drop shadow flag.
type ItemV2 struct {
	ItemV1
	DropShadow bool `json:"dropShadow"`
}

// DocumentV2 is ItemV1 plus drop shadows.
type DocumentV2 struct {
	header
	Items []ItemV2 `json:"items"`
	Rels  []RelV1  `json:"rels"`
}

// Validate validates the document.
func (d DocumentV2) Validate() error {
	if err := d.header.validate(2); err != nil {
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
