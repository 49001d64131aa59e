package schema

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ActionLink is the only action kind of V5 action buttons.
const ActionLink = "link"

// LinkActionV5 is the action of a V5 action button.
type LinkActionV5 struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Validate validates the action.
func (a LinkActionV5) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Type, validation.Required, stringIn(ActionLink)),
		validation.Field(&a.URL, validation.Required),
	)
}

// ItemV5 admits action buttons.
type ItemV5 struct {
	ItemV4
	Action *LinkActionV5 `json:"action,omitempty"`
}

// Validate validates the item.
func (i ItemV5) Validate() error {
	if err := i.ItemV3.validate(typesV5); err != nil {
		return err
	}
	if i.Type != TypeActionButton && i.Action != nil {
		return fmt.Errorf("action: only allowed on %s items", TypeActionButton)
	}
	return validation.Validate(i.Action)
}

// DocumentV5 is V4 with action buttons.
type DocumentV5 struct {
	header
	Items             []ItemV5           `json:"items"`
	Rels              []Rel              `json:"rels"`
	Groups            []Group            `json:"groups"`
	PresentationSteps []PresentationStep `json:"presentationSteps"`
}

// Validate validates the document.
func (d DocumentV5) Validate() error {
	if err := d.header.validate(5); err != nil {
		return err
	}
	if err := validation.Validate(d.Items); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	g := graphV4{rels: d.Rels, groups: d.Groups, steps: d.PresentationSteps}
	for _, it := range d.Items {
		g.itemIDs = append(g.itemIDs, it.ID)
		g.itemRefs = append(g.itemRefs, it.GroupID)
	}
	return g.validate()
}
