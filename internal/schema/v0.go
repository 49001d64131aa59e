package schema

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// rootCore holds the tapestry scalars shared by every schema version.
type rootCore struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Background  string     `json:"background,omitempty"`
	Theme       string     `json:"theme,omitempty"`
	StartView   *Rectangle `json:"startView,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
}

func (r rootCore) validate(themeRequired bool) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Theme,
			validation.When(themeRequired, validation.Required),
			stringIn(ThemeLight, ThemeDark),
		),
		validation.Field(&r.StartView),
		validation.Field(&r.Thumbnail, validation.By(isReference)),
	)
}

func (r rootCore) clone() rootCore {
	if r.StartView != nil {
		v := *r.StartView
		r.StartView = &v
	}
	return r
}

// ItemV0 is an item of the original, ID-less format.
type ItemV0 struct {
	itemCore
	legacyTimes
}

// Validate validates the item.
func (i ItemV0) Validate() error {
	if err := i.itemCore.validate(typesV0); err != nil {
		return err
	}
	return i.legacyTimes.validate()
}

// RelEndpointV0 addresses an item by its position in the items array.
type RelEndpointV0 struct {
	ItemIndex int    `json:"itemIndex"`
	Anchor    Point  `json:"anchor"`
	ArrowHead string `json:"arrowHead,omitempty"`
}

// RelV0 joins two items of a V0 document.
type RelV0 struct {
	From  RelEndpointV0 `json:"from"`
	To    RelEndpointV0 `json:"to"`
	Color string        `json:"color,omitempty"`
}

// DocumentV0 is the original archive format. It carries no version tag or
// a version of 0.
type DocumentV0 struct {
	Version *int `json:"version,omitempty"`
	rootCore
	Items []ItemV0 `json:"items"`
	Rels  []RelV0  `json:"rels"`
}

// Validate validates the document.
func (d DocumentV0) Validate() error {
	if d.Version != nil && *d.Version != 0 {
		return fmt.Errorf("version: must be 0 or absent, got %d", *d.Version)
	}
	if err := d.rootCore.validate(false); err != nil {
		return err
	}
	if err := validation.Validate(d.Items); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	for i, r := range d.Rels {
		for _, end := range []RelEndpointV0{r.From, r.To} {
			if end.ItemIndex < 0 || end.ItemIndex >= len(d.Items) {
				return fmt.Errorf("rels[%d]: item index %d out of range", i, end.ItemIndex)
			}
			if err := validateAnchor(end.Anchor); err != nil {
				return fmt.Errorf("rels[%d]: anchor: %w", i, err)
			}
			if err := validation.Validate(end.ArrowHead, stringIn(ArrowNone, ArrowPointed)); err != nil {
				return fmt.Errorf("rels[%d]: arrowHead: %w", i, err)
			}
		}
	}
	return nil
}
