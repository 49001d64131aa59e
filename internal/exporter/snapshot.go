package exporter

import (
	"net/url"
	"path"
	"strings"

	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
)

// Entry name prefixes, one per asset-carrying field.
const (
	PrefixTapestry         = "tapestry/"
	PrefixItems            = "items/"
	PrefixThumbnails       = "thumbnails/"
	PrefixCustomThumbnails = "custom-thumbnails/"
)

// Asset is one hosted file to copy into the archive.
type Asset struct {
	// Entry is the archive entry name.
	Entry string
	// Source is the live reference: a blob key.
	Source string
	// Ref addresses the rewritten manifest field.
	Ref schema.AssetRef
}

// Snapshot converts a live graph into a draft manifest. Hosted asset
// references are rewritten to archive references in the same pass and
// returned as the assets to fetch. Store-only fields (owner, parent, row
// order, hosting flags of the tapestry) do not appear in the manifest.
func Snapshot(g *models.Graph) (schema.Manifest, []Asset) {
	t := g.Tapestry
	m := schema.Manifest{
		Version:           schema.Current,
		ID:                t.ID,
		Title:             t.Title,
		Description:       t.Description,
		Background:        t.Background,
		Theme:             t.Theme,
		Thumbnail:         t.Thumbnail,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		Items:             make([]schema.Item, 0, len(g.Items)),
		Rels:              make([]schema.Rel, 0, len(g.Rels)),
		Groups:            make([]schema.Group, 0, len(g.Groups)),
		PresentationSteps: make([]schema.PresentationStep, 0, len(g.PresentationSteps)),
	}
	if t.StartView != nil {
		v := *t.StartView
		m.StartView = &v
	}

	var assets []Asset
	rewrite := func(field schema.Field, index int, prefix, id, source string) string {
		entry := schema.EntryName(prefix, id, filename(source))
		ref := schema.ArchiveRef(entry)
		assets = append(assets, Asset{
			Entry:  entry,
			Source: source,
			Ref:    schema.AssetRef{Field: field, ItemIndex: index, Value: ref},
		})
		return ref
	}

	if t.Thumbnail != "" && t.ThumbnailHosted {
		m.Thumbnail = rewrite(schema.FieldTapestryThumbnail, -1, PrefixTapestry, t.ID, t.Thumbnail)
	}

	for i, it := range g.Items {
		item := schema.Item{
			ID:               it.ID,
			TapestryID:       t.ID,
			Type:             it.Type,
			Title:            it.Title,
			Position:         it.Position,
			Size:             it.Size,
			DropShadow:       it.DropShadow,
			GroupID:          it.GroupID,
			Text:             it.Text,
			Source:           it.Source,
			InternallyHosted: it.InternallyHosted,
			Thumbnail:        copyThumbnail(it.Thumbnail),
			CustomThumbnail:  copyThumbnail(it.CustomThumbnail),
			WebpageType:      it.WebpageType,
			VideoType:        it.VideoType,
			StartTime:        copyFloat(it.StartTime),
			StopTime:         copyFloat(it.StopTime),
			CreatedAt:        it.CreatedAt,
			UpdatedAt:        it.UpdatedAt,
		}
		if it.Action != nil {
			a := *it.Action
			item.Action = &a
		}
		if it.Type.IsMedia() && it.InternallyHosted && isHosted(it.Source) {
			item.Source = rewrite(schema.FieldSource, i, PrefixItems, it.ID, it.Source)
		}
		if item.Thumbnail != nil && isHosted(item.Thumbnail.Source) {
			item.Thumbnail.Source = rewrite(schema.FieldThumbnail, i, PrefixThumbnails, it.ID, item.Thumbnail.Source)
		}
		if item.CustomThumbnail != nil && isHosted(item.CustomThumbnail.Source) {
			item.CustomThumbnail.Source = rewrite(schema.FieldCustomThumbnail, i, PrefixCustomThumbnails, it.ID, item.CustomThumbnail.Source)
		}
		m.Items = append(m.Items, item)
	}

	for _, r := range g.Rels {
		m.Rels = append(m.Rels, schema.Rel{ID: r.ID, From: r.From, To: r.To, Color: r.Color, Weight: r.Weight})
	}
	for _, gr := range g.Groups {
		m.Groups = append(m.Groups, schema.Group{
			ID: gr.ID, Name: gr.Name, Color: gr.Color, HasBorder: gr.HasBorder, HasBackground: gr.HasBackground,
		})
	}
	for _, s := range g.PresentationSteps {
		m.PresentationSteps = append(m.PresentationSteps, schema.PresentationStep{
			ID: s.ID, ItemID: s.ItemID, GroupID: s.GroupID, PrevStepID: s.PrevStepID,
		})
	}
	return m, assets
}

// isHosted reports whether ref is a blob key rather than an external URL.
func isHosted(ref string) bool {
	if ref == "" || schema.IsArchiveRef(ref) {
		return false
	}
	u, err := url.Parse(ref)
	return err == nil && !u.IsAbs()
}

// filename extracts the last path element of a key or URL.
func filename(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	if name == "." || name == "/" || name == "" {
		return "asset"
	}
	return name
}

func copyThumbnail(t *schema.Thumbnail) *schema.Thumbnail {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
