package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tapestry/internal/apperr"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
)

// itemProps is the JSON document in items.props.
type itemProps struct {
	Position         schema.Point      `json:"position"`
	Size             schema.Size       `json:"size"`
	DropShadow       bool              `json:"dropShadow,omitempty"`
	Text             string            `json:"text,omitempty"`
	Source           string            `json:"source,omitempty"`
	InternallyHosted bool              `json:"internallyHosted,omitempty"`
	Thumbnail        *schema.Thumbnail `json:"thumbnail,omitempty"`
	CustomThumbnail  *schema.Thumbnail `json:"customThumbnail,omitempty"`
	WebpageType      string            `json:"webpageType,omitempty"`
	VideoType        string            `json:"videoType,omitempty"`
	StartTime        *float64          `json:"startTime,omitempty"`
	StopTime         *float64          `json:"stopTime,omitempty"`
	Action           *schema.Action    `json:"action,omitempty"`
}

// relProps is the JSON document in rels.props.
type relProps struct {
	FromAnchor schema.Point `json:"fromAnchor"`
	FromArrow  string       `json:"fromArrow"`
	ToAnchor   schema.Point `json:"toAnchor"`
	ToArrow    string       `json:"toArrow"`
	Color      string       `json:"color,omitempty"`
	Weight     string       `json:"weight"`
}

// CreateTapestry inserts the tapestry row.
func (tx *Tx) CreateTapestry(ctx context.Context, t models.Tapestry) error {
	var startView any
	if t.StartView != nil {
		raw, _ := json.Marshal(t.StartView)
		startView = string(raw)
	}
	_, err := tx.exec(ctx, `
		INSERT INTO tapestries (id, owner_id, parent_id, title, description, background, theme,
			start_view, thumbnail, thumbnail_hosted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OwnerID, nullString(t.ParentID), t.Title, t.Description, t.Background, t.Theme,
		startView, t.Thumbnail, boolInt(t.ThumbnailHosted), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert tapestry: %w", err)
	}
	return nil
}

// SetTapestryThumbnail points the tapestry thumbnail at a hosted blob.
func (tx *Tx) SetTapestryThumbnail(ctx context.Context, id, key string) error {
	res, err := tx.exec(ctx, `UPDATE tapestries SET thumbnail = ?, thumbnail_hosted = 1 WHERE id = ?`, key, id)
	if err != nil {
		return fmt.Errorf("store: set tapestry thumbnail: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set tapestry thumbnail %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// CreateGroup inserts a group at the given position.
func (tx *Tx) CreateGroup(ctx context.Context, g models.Group, position int) error {
	_, err := tx.exec(ctx, `
		INSERT INTO item_groups (id, tapestry_id, position, name, color, has_border, has_background)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.TapestryID, position, g.Name, g.Color, boolInt(g.HasBorder), boolInt(g.HasBackground))
	if err != nil {
		return fmt.Errorf("store: insert group: %w", err)
	}
	return nil
}

// CreateItem inserts an item at the given position.
func (tx *Tx) CreateItem(ctx context.Context, it models.Item, position int) error {
	props, err := json.Marshal(itemProps{
		Position:         it.Position,
		Size:             it.Size,
		DropShadow:       it.DropShadow,
		Text:             it.Text,
		Source:           it.Source,
		InternallyHosted: it.InternallyHosted,
		Thumbnail:        it.Thumbnail,
		CustomThumbnail:  it.CustomThumbnail,
		WebpageType:      it.WebpageType,
		VideoType:        it.VideoType,
		StartTime:        it.StartTime,
		StopTime:         it.StopTime,
		Action:           it.Action,
	})
	if err != nil {
		return fmt.Errorf("store: encode item props: %w", err)
	}
	_, err = tx.exec(ctx, `
		INSERT INTO items (id, tapestry_id, group_id, position, type, title, props, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.TapestryID, nullString(it.GroupID), position, string(it.Type), it.Title, string(props),
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert item: %w", err)
	}
	return nil
}

// CreateRel inserts a rel at the given position.
func (tx *Tx) CreateRel(ctx context.Context, r models.Rel, position int) error {
	props, err := json.Marshal(relProps{
		FromAnchor: r.From.Anchor,
		FromArrow:  r.From.ArrowHead,
		ToAnchor:   r.To.Anchor,
		ToArrow:    r.To.ArrowHead,
		Color:      r.Color,
		Weight:     r.Weight,
	})
	if err != nil {
		return fmt.Errorf("store: encode rel props: %w", err)
	}
	_, err = tx.exec(ctx, `
		INSERT INTO rels (id, tapestry_id, position, from_item_id, to_item_id, props)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.TapestryID, position, r.From.ItemID, r.To.ItemID, string(props))
	if err != nil {
		return fmt.Errorf("store: insert rel: %w", err)
	}
	return nil
}

// CreateStep inserts a presentation step without its predecessor link.
// Links are set with SetPrevStep once every step of the tapestry exists.
func (tx *Tx) CreateStep(ctx context.Context, s models.PresentationStep, position int) error {
	_, err := tx.exec(ctx, `
		INSERT INTO presentation_steps (id, tapestry_id, position, item_id, group_id)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.TapestryID, position, nullString(s.ItemID), nullString(s.GroupID))
	if err != nil {
		return fmt.Errorf("store: insert presentation step: %w", err)
	}
	return nil
}

// SetPrevStep links a step to its predecessor.
func (tx *Tx) SetPrevStep(ctx context.Context, stepID, prevID string) error {
	res, err := tx.exec(ctx, `UPDATE presentation_steps SET prev_step_id = ? WHERE id = ?`, nullString(prevID), stepID)
	if err != nil {
		return fmt.Errorf("store: link presentation step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: link presentation step %s: %w", stepID, apperr.ErrNotFound)
	}
	return nil
}

// CreateGraph inserts a complete tapestry in one transaction. Step
// predecessors are linked after all steps exist.
func (db *DB) CreateGraph(ctx context.Context, g models.Graph) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.CreateTapestry(ctx, g.Tapestry); err != nil {
			return err
		}
		for i, gr := range g.Groups {
			if err := tx.CreateGroup(ctx, gr, i); err != nil {
				return err
			}
		}
		for i, it := range g.Items {
			if err := tx.CreateItem(ctx, it, i); err != nil {
				return err
			}
		}
		for i, r := range g.Rels {
			if err := tx.CreateRel(ctx, r, i); err != nil {
				return err
			}
		}
		for i, s := range g.PresentationSteps {
			if err := tx.CreateStep(ctx, s, i); err != nil {
				return err
			}
		}
		for _, s := range g.PresentationSteps {
			if s.PrevStepID == "" {
				continue
			}
			if err := tx.SetPrevStep(ctx, s.ID, s.PrevStepID); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteTapestry removes a tapestry and, by cascade, everything in it.
func (db *DB) DeleteTapestry(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `DELETE FROM tapestries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete tapestry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// GetTapestry returns the tapestry row.
func (db *DB) GetTapestry(ctx context.Context, id string) (*models.Tapestry, error) {
	var (
		t                    models.Tapestry
		parent, startView    sql.NullString
		hosted               bool
		createdAt, updatedAt string
	)
	err := db.queryRow(ctx, `
		SELECT id, owner_id, parent_id, title, description, background, theme, start_view,
			thumbnail, thumbnail_hosted, created_at, updated_at
		FROM tapestries WHERE id = ?
	`, id).Scan(&t.ID, &t.OwnerID, &parent, &t.Title, &t.Description, &t.Background, &t.Theme, &startView,
		&t.Thumbnail, &hosted, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get tapestry: %w", err)
	}
	t.ParentID = parent.String
	t.ThumbnailHosted = hosted
	if startView.Valid && startView.String != "" {
		var r schema.Rectangle
		if err := json.Unmarshal([]byte(startView.String), &r); err != nil {
			return nil, fmt.Errorf("store: decode start view: %w", err)
		}
		t.StartView = &r
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// GetGraph loads a tapestry with all of its entities in insertion order.
func (db *DB) GetGraph(ctx context.Context, id string) (*models.Graph, error) {
	t, err := db.GetTapestry(ctx, id)
	if err != nil {
		return nil, err
	}
	g := &models.Graph{
		Tapestry:          *t,
		Items:             []models.Item{},
		Rels:              []models.Rel{},
		Groups:            []models.Group{},
		PresentationSteps: []models.PresentationStep{},
	}
	if g.Groups, err = db.groups(ctx, id); err != nil {
		return nil, err
	}
	if g.Items, err = db.items(ctx, id); err != nil {
		return nil, err
	}
	if g.Rels, err = db.rels(ctx, id); err != nil {
		return nil, err
	}
	if g.PresentationSteps, err = db.steps(ctx, id); err != nil {
		return nil, err
	}
	return g, nil
}

func (db *DB) groups(ctx context.Context, tapestryID string) ([]models.Group, error) {
	rows, err := db.query(ctx, `
		SELECT id, name, color, has_border, has_background
		FROM item_groups WHERE tapestry_id = ? ORDER BY position, id
	`, tapestryID)
	if err != nil {
		return nil, fmt.Errorf("store: list groups: %w", err)
	}
	defer rows.Close()

	out := []models.Group{}
	for rows.Next() {
		g := models.Group{TapestryID: tapestryID}
		if err := rows.Scan(&g.ID, &g.Name, &g.Color, &g.HasBorder, &g.HasBackground); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (db *DB) items(ctx context.Context, tapestryID string) ([]models.Item, error) {
	rows, err := db.query(ctx, `
		SELECT id, group_id, type, title, props, created_at, updated_at
		FROM items WHERE tapestry_id = ? ORDER BY position, id
	`, tapestryID)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	defer rows.Close()

	out := []models.Item{}
	for rows.Next() {
		var (
			it                          models.Item
			group                       sql.NullString
			typ, props, created, update string
		)
		if err := rows.Scan(&it.ID, &group, &typ, &it.Title, &props, &created, &update); err != nil {
			return nil, err
		}
		var p itemProps
		if err := json.Unmarshal([]byte(props), &p); err != nil {
			return nil, fmt.Errorf("store: decode item %s: %w", it.ID, err)
		}
		it.TapestryID = tapestryID
		it.GroupID = group.String
		it.Type = schema.ItemType(typ)
		it.Position = p.Position
		it.Size = p.Size
		it.DropShadow = p.DropShadow
		it.Text = p.Text
		it.Source = p.Source
		it.InternallyHosted = p.InternallyHosted
		it.Thumbnail = p.Thumbnail
		it.CustomThumbnail = p.CustomThumbnail
		it.WebpageType = p.WebpageType
		it.VideoType = p.VideoType
		it.StartTime = p.StartTime
		it.StopTime = p.StopTime
		it.Action = p.Action
		it.CreatedAt = parseTime(created)
		it.UpdatedAt = parseTime(update)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (db *DB) rels(ctx context.Context, tapestryID string) ([]models.Rel, error) {
	rows, err := db.query(ctx, `
		SELECT id, from_item_id, to_item_id, props
		FROM rels WHERE tapestry_id = ? ORDER BY position, id
	`, tapestryID)
	if err != nil {
		return nil, fmt.Errorf("store: list rels: %w", err)
	}
	defer rows.Close()

	out := []models.Rel{}
	for rows.Next() {
		var (
			r     models.Rel
			props string
		)
		if err := rows.Scan(&r.ID, &r.From.ItemID, &r.To.ItemID, &props); err != nil {
			return nil, err
		}
		var p relProps
		if err := json.Unmarshal([]byte(props), &p); err != nil {
			return nil, fmt.Errorf("store: decode rel %s: %w", r.ID, err)
		}
		r.TapestryID = tapestryID
		r.From.Anchor, r.From.ArrowHead = p.FromAnchor, p.FromArrow
		r.To.Anchor, r.To.ArrowHead = p.ToAnchor, p.ToArrow
		r.Color = p.Color
		r.Weight = p.Weight
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) steps(ctx context.Context, tapestryID string) ([]models.PresentationStep, error) {
	rows, err := db.query(ctx, `
		SELECT id, item_id, group_id, prev_step_id
		FROM presentation_steps WHERE tapestry_id = ? ORDER BY position, id
	`, tapestryID)
	if err != nil {
		return nil, fmt.Errorf("store: list presentation steps: %w", err)
	}
	defer rows.Close()

	out := []models.PresentationStep{}
	for rows.Next() {
		var (
			s                   models.PresentationStep
			item, group, prevID sql.NullString
		)
		if err := rows.Scan(&s.ID, &item, &group, &prevID); err != nil {
			return nil, err
		}
		s.TapestryID = tapestryID
		s.ItemID, s.GroupID, s.PrevStepID = item.String, group.String, prevID.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListTapestries returns a page of tapestries, newest first, and the total
// count. An empty owner lists every tapestry.
func (db *DB) ListTapestries(ctx context.Context, owner string, limit, offset int) ([]models.TapestrySummary, int, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := "", []any{}
	if owner != "" {
		where, args = "WHERE t.owner_id = ?", append(args, owner)
	}

	var total int
	if err := db.queryRow(ctx, `SELECT count(*) FROM tapestries t `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count tapestries: %w", err)
	}

	rows, err := db.query(ctx, `
		SELECT t.id, t.owner_id, t.title, t.updated_at,
			(SELECT count(*) FROM items i WHERE i.tapestry_id = t.id)
		FROM tapestries t `+where+`
		ORDER BY t.updated_at DESC, t.id
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list tapestries: %w", err)
	}
	defer rows.Close()

	out := []models.TapestrySummary{}
	for rows.Next() {
		var (
			s       models.TapestrySummary
			updated string
		)
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Title, &updated, &s.Items); err != nil {
			return nil, 0, err
		}
		s.UpdatedAt = parseTime(updated)
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Counts reports the number of rows per tapestry table, across all tapestries.
func (db *DB) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, 5)
	for _, table := range []string{"tapestries", "item_groups", "items", "rels", "presentation_steps"} {
		var n int
		if err := db.queryRow(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("store: count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
