package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Current is the schema version every archive is migrated to and every
// export is written in.
const Current = 6

// RootEntry is the archive entry holding the manifest.
const RootEntry = "root.json"

// ItemType discriminates the item variants of the current schema.
type ItemType string

// Current item variants.
const (
	ItemText         ItemType = TypeText
	ItemActionButton ItemType = TypeActionButton
	ItemAudio        ItemType = TypeAudio
	ItemBook         ItemType = TypeBook
	ItemImage        ItemType = TypeImage
	ItemPDF          ItemType = TypePDF
	ItemVideo        ItemType = TypeVideo
	ItemWebpage      ItemType = TypeWebpage
)

// IsMedia reports whether the variant carries a source.
func (t ItemType) IsMedia() bool {
	return IsMediaType(string(t))
}

// Action kinds of the current schema.
const (
	ActionInternalLink = "internalLink"
	ActionExternalLink = "externalLink"
)

// Action is what an action button does when pressed. Internal links point at
// another item of the same tapestry, external links at a URL.
type Action struct {
	Type   string `json:"type"`
	ItemID string `json:"itemId,omitempty"`
	URL    string `json:"url,omitempty"`
}

func (a Action) validate(items map[string]struct{}) error {
	switch a.Type {
	case ActionInternalLink:
		if _, ok := items[a.ItemID]; !ok {
			return fmt.Errorf("action: itemId %q does not resolve", a.ItemID)
		}
		return nil
	case ActionExternalLink:
		if a.URL == "" {
			return fmt.Errorf("action: url: cannot be blank")
		}
		return nil
	default:
		return fmt.Errorf("action: unknown type %q", a.Type)
	}
}

// Item is an item of the current schema.
type Item struct {
	ID               string     `json:"id"`
	TapestryID       string     `json:"tapestryId"`
	Type             ItemType   `json:"type"`
	Title            string     `json:"title"`
	Position         Point      `json:"position"`
	Size             Size       `json:"size"`
	DropShadow       bool       `json:"dropShadow"`
	GroupID          string     `json:"groupId,omitempty"`
	Text             string     `json:"text,omitempty"`
	Source           string     `json:"source,omitempty"`
	InternallyHosted bool       `json:"internallyHosted,omitempty"`
	Thumbnail        *Thumbnail `json:"thumbnail,omitempty"`
	CustomThumbnail  *Thumbnail `json:"customThumbnail,omitempty"`
	WebpageType      string     `json:"webpageType,omitempty"`
	VideoType        string     `json:"videoType,omitempty"`
	StartTime        *float64   `json:"startTime,omitempty"`
	StopTime         *float64   `json:"stopTime,omitempty"`
	Action           *Action    `json:"action,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Validate validates the item on its own. References to other entities are
// checked by Manifest.Validate.
func (i Item) Validate() error {
	if err := validation.ValidateStruct(&i,
		validation.Field(&i.ID, validation.Required),
		validation.Field(&i.Type, validation.Required, validation.In(
			ItemText, ItemActionButton, ItemAudio, ItemBook, ItemImage, ItemPDF, ItemVideo, ItemWebpage,
		)),
		validation.Field(&i.Size),
		validation.Field(&i.Source,
			validation.When(i.Type.IsMedia(), validation.Required).Else(validation.Empty),
			validation.By(isReference),
		),
		validation.Field(&i.Thumbnail),
		validation.Field(&i.CustomThumbnail),
		validation.Field(&i.WebpageType, stringIn(WebpageGeneric, WebpageIAWayback)),
		validation.Field(&i.VideoType, stringIn(VideoURL, VideoYouTube)),
		validation.Field(&i.StartTime, validation.Min(0.0)),
		validation.Field(&i.StopTime, validation.Min(0.0)),
	); err != nil {
		return err
	}
	if i.StartTime != nil && i.StopTime != nil && *i.StopTime < *i.StartTime {
		return fmt.Errorf("stopTime: must not precede startTime")
	}
	if i.Type != ItemActionButton && i.Action != nil {
		return fmt.Errorf("action: only allowed on %s items", ItemActionButton)
	}
	return nil
}

// Manifest is the current (V6) schema of root.json.
type Manifest struct {
	Version           int                `json:"version"`
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Description       string             `json:"description,omitempty"`
	Background        string             `json:"background,omitempty"`
	Theme             string             `json:"theme"`
	StartView         *Rectangle         `json:"startView,omitempty"`
	Thumbnail         string             `json:"thumbnail,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	Items             []Item             `json:"items"`
	Rels              []Rel              `json:"rels"`
	Groups            []Group            `json:"groups"`
	PresentationSteps []PresentationStep `json:"presentationSteps"`
}

// Validate validates the manifest, including every cross reference.
func (m Manifest) Validate() error {
	if err := validation.ValidateStruct(&m,
		validation.Field(&m.Version, versionIs(Current)),
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Theme, validation.Required, stringIn(ThemeLight, ThemeDark)),
		validation.Field(&m.StartView),
		validation.Field(&m.Thumbnail, validation.By(isReference)),
	); err != nil {
		return err
	}
	if err := validation.Validate(m.Items); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	g := graphV4{rels: m.Rels, groups: m.Groups, steps: m.PresentationSteps}
	for _, it := range m.Items {
		g.itemIDs = append(g.itemIDs, it.ID)
		g.itemRefs = append(g.itemRefs, it.GroupID)
	}
	if err := g.validate(); err != nil {
		return err
	}
	items := idSet(g.itemIDs)
	for i, it := range m.Items {
		if it.Action == nil {
			continue
		}
		if err := it.Action.validate(items); err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	return nil
}

// Field names an asset-carrying field of a manifest.
type Field string

// Asset-carrying fields.
const (
	FieldTapestryThumbnail Field = "thumbnail"
	FieldSource            Field = "source"
	FieldThumbnail         Field = "item.thumbnail"
	FieldCustomThumbnail   Field = "item.customThumbnail"
)

// Required reports whether the field must keep an archive entry when its
// asset cannot be fetched for export. Thumbnails are dropped instead.
func (f Field) Required() bool {
	return f == FieldSource
}

// AssetRef is one asset reference found in a manifest.
type AssetRef struct {
	Field Field
	// ItemIndex is the index into Manifest.Items, -1 for the tapestry thumbnail.
	ItemIndex int
	Value     string
}

// AssetRefs lists every asset-carrying field in a fixed order: the tapestry
// thumbnail first, then for each item its source, thumbnail and custom
// thumbnail.
func (m Manifest) AssetRefs() []AssetRef {
	var out []AssetRef
	if m.Thumbnail != "" {
		out = append(out, AssetRef{Field: FieldTapestryThumbnail, ItemIndex: -1, Value: m.Thumbnail})
	}
	for i, it := range m.Items {
		if it.Type.IsMedia() && it.Source != "" {
			out = append(out, AssetRef{Field: FieldSource, ItemIndex: i, Value: it.Source})
		}
		if it.Thumbnail != nil {
			out = append(out, AssetRef{Field: FieldThumbnail, ItemIndex: i, Value: it.Thumbnail.Source})
		}
		if it.CustomThumbnail != nil {
			out = append(out, AssetRef{Field: FieldCustomThumbnail, ItemIndex: i, Value: it.CustomThumbnail.Source})
		}
	}
	return out
}

// ArchiveRefs is AssetRefs filtered to archive-internal references.
func (m Manifest) ArchiveRefs() []AssetRef {
	var out []AssetRef
	for _, ref := range m.AssetRefs() {
		if IsArchiveRef(ref.Value) {
			out = append(out, ref)
		}
	}
	return out
}

// WithAsset returns a copy of m in which the field addressed by ref holds
// value. An empty value removes a thumbnail; a source is never removed.
func (m Manifest) WithAsset(ref AssetRef, value string) Manifest {
	out := m.Clone()
	if ref.Field == FieldTapestryThumbnail {
		out.Thumbnail = value
		return out
	}
	it := &out.Items[ref.ItemIndex]
	switch ref.Field {
	case FieldSource:
		it.Source = value
	case FieldThumbnail:
		if value == "" {
			it.Thumbnail = nil
		} else if it.Thumbnail != nil {
			it.Thumbnail.Source = value
		}
	case FieldCustomThumbnail:
		if value == "" {
			it.CustomThumbnail = nil
		} else if it.CustomThumbnail != nil {
			it.CustomThumbnail.Source = value
		}
	}
	return out
}

// Clone returns a deep copy of m.
func (m Manifest) Clone() Manifest {
	if m.StartView != nil {
		v := *m.StartView
		m.StartView = &v
	}
	items := cloneSlice(m.Items)
	for i, it := range items {
		it.Thumbnail = copyThumbnail(it.Thumbnail)
		it.CustomThumbnail = copyThumbnail(it.CustomThumbnail)
		it.StartTime = copyFloat(it.StartTime)
		it.StopTime = copyFloat(it.StopTime)
		if it.Action != nil {
			a := *it.Action
			it.Action = &a
		}
		items[i] = it
	}
	m.Items = items
	m.Rels = cloneSlice(m.Rels)
	m.Groups = cloneSlice(m.Groups)
	m.PresentationSteps = cloneSlice(m.PresentationSteps)
	return m
}

// cloneSlice copies s, keeping nil and empty slices apart so that the JSON
// encoding of a clone matches the original.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Encode serializes the manifest as root.json content.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("schema: encode manifest: %w", err)
	}
	return data, nil
}

// EntryName builds the human readable archive entry name for an asset:
// "<prefix><id> (<filename>)<.ext>".
func EntryName(prefix, id, filename string) string {
	base := filename
	ext := ""
	if dot := strings.LastIndex(filename, "."); dot > 0 {
		base, ext = filename[:dot], filename[dot:]
	}
	return fmt.Sprintf("%s%s (%s)%s", prefix, id, base, ext)
}
