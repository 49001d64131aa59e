package schema

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Rel joins two items. Weight was added in V4; the shape is unchanged since.
type Rel struct {
	ID     string      `json:"id"`
	From   RelEndpoint `json:"from"`
	To     RelEndpoint `json:"to"`
	Color  string      `json:"color,omitempty"`
	Weight string      `json:"weight"`
}

func (r Rel) validate(items map[string]struct{}) error {
	if err := (RelV1{ID: r.ID, From: r.From, To: r.To}).validate(items); err != nil {
		return err
	}
	return validation.Validate(r.Weight, validation.Required, stringIn(WeightLight, WeightMedium, WeightHeavy))
}

// Group bundles items. Items point at their group; groups hold no item list.
type Group struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Color         string `json:"color,omitempty"`
	HasBorder     bool   `json:"hasBorder,omitempty"`
	HasBackground bool   `json:"hasBackground,omitempty"`
}

// Validate validates the group.
func (g Group) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.ID, validation.Required),
	)
}

// PresentationStep is a node of the presentation order, a singly linked
// list through PrevStepID. A step shows exactly one item or one group.
type PresentationStep struct {
	ID         string `json:"id"`
	ItemID     string `json:"itemId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	PrevStepID string `json:"prevStepId,omitempty"`
}

// graphV4 is the part of a V4+ document that needs cross-reference checks.
type graphV4 struct {
	itemIDs  []string
	itemRefs []string // group ids referenced from items, "" when ungrouped
	rels     []Rel
	groups   []Group
	steps    []PresentationStep
}

func (g graphV4) validate() error {
	if err := uniqueIDs("item", g.itemIDs); err != nil {
		return err
	}
	items := idSet(g.itemIDs)

	if err := validation.Validate(g.groups); err != nil {
		return fmt.Errorf("groups: %w", err)
	}
	groupIDs := make([]string, len(g.groups))
	for i, gr := range g.groups {
		groupIDs[i] = gr.ID
	}
	if err := uniqueIDs("group", groupIDs); err != nil {
		return err
	}
	groups := idSet(groupIDs)
	for i, ref := range g.itemRefs {
		if ref == "" {
			continue
		}
		if _, ok := groups[ref]; !ok {
			return fmt.Errorf("items[%d]: groupId %q does not resolve", i, ref)
		}
	}

	relIDs := make([]string, len(g.rels))
	for i, r := range g.rels {
		if err := r.validate(items); err != nil {
			return fmt.Errorf("rels[%d]: %w", i, err)
		}
		relIDs[i] = r.ID
	}
	if err := uniqueIDs("rel", relIDs); err != nil {
		return err
	}

	return validateSteps(g.steps, items, groups)
}

func validateSteps(steps []PresentationStep, items, groups map[string]struct{}) error {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	if err := uniqueIDs("presentation step", ids); err != nil {
		return err
	}
	stepIDs := idSet(ids)
	for i, s := range steps {
		if s.ID == "" {
			return fmt.Errorf("presentationSteps[%d]: id: cannot be blank", i)
		}
		if (s.ItemID == "") == (s.GroupID == "") {
			return fmt.Errorf("presentationSteps[%d]: %w", i, errors.New("exactly one of itemId and groupId must be set"))
		}
		if s.ItemID != "" {
			if _, ok := items[s.ItemID]; !ok {
				return fmt.Errorf("presentationSteps[%d]: itemId %q does not resolve", i, s.ItemID)
			}
		}
		if s.GroupID != "" {
			if _, ok := groups[s.GroupID]; !ok {
				return fmt.Errorf("presentationSteps[%d]: groupId %q does not resolve", i, s.GroupID)
			}
		}
		if s.PrevStepID != "" {
			if _, ok := stepIDs[s.PrevStepID]; !ok || s.PrevStepID == s.ID {
				return fmt.Errorf("presentationSteps[%d]: prevStepId %q does not resolve", i, s.PrevStepID)
			}
		}
	}
	return nil
}

// ItemV4 adds group membership.
type ItemV4 struct {
	ItemV3
	GroupID string `json:"groupId,omitempty"`
}

// DocumentV4 introduces groups, presentation steps and weighted rels.
type DocumentV4 struct {
	header
	Items             []ItemV4           `json:"items"`
	Rels              []Rel              `json:"rels"`
	Groups            []Group            `json:"groups"`
	PresentationSteps []PresentationStep `json:"presentationSteps"`
}

// Validate validates the document.
func (d DocumentV4) Validate() error {
	if err := d.header.validate(4); err != nil {
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
