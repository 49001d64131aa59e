package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/gabriel-vasile/mimetype"

	"github.com/starford/tapestry/internal/archive"
	"github.com/starford/tapestry/internal/metrics"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
	"github.com/starford/tapestry/internal/store"
)

// sniffLen is how much of an asset mimetype needs to detect its type.
const sniffLen = 3072

// KeyPrefix is the blob prefix under which imported assets are hosted.
const KeyPrefix = "tapestries/"

type materialization struct {
	job      *models.Job
	manifest schema.Manifest
	refs     []schema.AssetRef
	archive  *archive.Reader
	uploaded *[]string
	progress *progress
}

// materialize writes the manifest as a new tapestry inside tx. Every entity
// gets a fresh ID; references between entities are translated through the
// old→new maps.
func (r *Reconstructor) materialize(ctx context.Context, tx *store.Tx, in materialization) (string, error) {
	m := in.manifest
	job := in.job
	now := r.now()

	t := models.Tapestry{
		ID:          r.newID(),
		OwnerID:     job.OwnerID,
		ParentID:    job.ParentID,
		Title:       m.Title,
		Description: m.Description,
		Background:  m.Background,
		Theme:       m.Theme,
		StartView:   m.StartView,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if job.Title != "" {
		t.Title = job.Title
	}
	if job.Description != "" {
		t.Description = job.Description
	}
	// An external tapestry thumbnail is kept as is; an archived one is set
	// once it has been uploaded.
	if !schema.IsArchiveRef(m.Thumbnail) {
		t.Thumbnail = m.Thumbnail
	}
	if err := tx.CreateTapestry(ctx, t); err != nil {
		return "", err
	}

	groupIDs := make(map[string]string, len(m.Groups))
	for i, g := range m.Groups {
		id := r.newID()
		groupIDs[g.ID] = id
		err := tx.CreateGroup(ctx, models.Group{
			ID:            id,
			TapestryID:    t.ID,
			Name:          g.Name,
			Color:         g.Color,
			HasBorder:     g.HasBorder,
			HasBackground: g.HasBackground,
		}, i)
		if err != nil {
			return "", err
		}
	}

	for _, ref := range in.refs {
		key, err := r.upload(ctx, in.archive, t.ID, ref)
		if err != nil {
			return "", err
		}
		*in.uploaded = append(*in.uploaded, key)
		if ref.Field == schema.FieldTapestryThumbnail {
			if err := tx.SetTapestryThumbnail(ctx, t.ID, key); err != nil {
				return "", err
			}
		}
		m = m.WithAsset(ref, key)
		in.progress.step(ctx)
	}

	// Item IDs are allocated up front so that internal links can point at
	// items created later in the same pass.
	itemIDs := make(map[string]string, len(m.Items))
	for _, it := range m.Items {
		itemIDs[it.ID] = r.newID()
	}
	for i, it := range m.Items {
		item := models.Item{
			ID:               itemIDs[it.ID],
			TapestryID:       t.ID,
			GroupID:          groupIDs[it.GroupID],
			Type:             it.Type,
			Title:            it.Title,
			Position:         it.Position,
			Size:             it.Size,
			DropShadow:       it.DropShadow,
			Text:             it.Text,
			Source:           it.Source,
			// Only sources uploaded from the archive live in the blob store.
			InternallyHosted: schema.IsArchiveRef(in.manifest.Items[i].Source),
			Thumbnail:        it.Thumbnail,
			CustomThumbnail:  it.CustomThumbnail,
			WebpageType:      it.WebpageType,
			VideoType:        it.VideoType,
			StartTime:        it.StartTime,
			StopTime:         it.StopTime,
			Action:           it.Action,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if it.Action != nil && it.Action.Type == schema.ActionInternalLink {
			a := *it.Action
			a.ItemID = itemIDs[a.ItemID]
			item.Action = &a
		}
		if err := tx.CreateItem(ctx, item, i); err != nil {
			return "", err
		}
	}

	for i, rel := range m.Rels {
		from, to := rel.From, rel.To
		from.ItemID, to.ItemID = itemIDs[from.ItemID], itemIDs[to.ItemID]
		err := tx.CreateRel(ctx, models.Rel{
			ID:         r.newID(),
			TapestryID: t.ID,
			From:       from,
			To:         to,
			Color:      rel.Color,
			Weight:     rel.Weight,
		}, i)
		if err != nil {
			return "", err
		}
	}

	stepIDs := make(map[string]string, len(m.PresentationSteps))
	for i, s := range m.PresentationSteps {
		id := r.newID()
		stepIDs[s.ID] = id
		err := tx.CreateStep(ctx, models.PresentationStep{
			ID:         id,
			TapestryID: t.ID,
			ItemID:     itemIDs[s.ItemID],
			GroupID:    groupIDs[s.GroupID],
		}, i)
		if err != nil {
			return "", err
		}
	}
	for _, s := range m.PresentationSteps {
		if s.PrevStepID == "" {
			continue
		}
		if err := tx.SetPrevStep(ctx, stepIDs[s.ID], stepIDs[s.PrevStepID]); err != nil {
			return "", err
		}
	}

	return t.ID, nil
}

// upload copies the archive entry behind ref to a fresh key under the new
// tapestry and returns the key.
func (r *Reconstructor) upload(ctx context.Context, arc *archive.Reader, tapestryID string, ref schema.AssetRef) (string, error) {
	entry, _ := schema.ArchiveEntry(ref.Value)
	rc, _, err := arc.Open(entry)
	if err != nil {
		return "", fmt.Errorf("importer: open entry %s: %w", entry, err)
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("importer: read entry %s: %w", entry, err)
	}
	head = head[:n]
	mt := mimetype.Detect(head)

	ext := path.Ext(entry)
	if ext == "" {
		ext = mt.Extension()
	}
	key := KeyPrefix + tapestryID + "/" + r.newID() + ext

	if _, err := r.blobs.Put(ctx, key, io.MultiReader(bytes.NewReader(head), rc), mt.String()); err != nil {
		return "", fmt.Errorf("importer: upload %s: %w", entry, err)
	}
	metrics.ImportUploads.Inc()
	return key, nil
}
