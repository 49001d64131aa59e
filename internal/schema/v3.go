package schema

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ItemV3 replaces the per-media trim fields with startTime/stopTime.
type ItemV3 struct {
	ID         string `json:"id"`
	TapestryID string `json:"tapestryId"`
	itemCore
	subTypes
	mediaTimes
	DropShadow bool      `json:"dropShadow"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (i ItemV3) validate(types []string) error {
	if err := validation.Validate(i.ID, validation.Required); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if err := i.itemCore.validate(types); err != nil {
		return err
	}
	if err := i.subTypes.validate(); err != nil {
		return err
	}
	return i.mediaTimes.validate()
}

// Validate validates the item.
func (i ItemV3) Validate() error {
	return i.validate(typesV1)
}

// DocumentV3 is the last format without groups.
type DocumentV3 struct {
	header
	Items []ItemV3 `json:"items"`
	Rels  []RelV1  `json:"rels"`
}

// Validate validates the document.
func (d DocumentV3) Validate() error {
	if err := d.header.validate(3); err != nil {
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
