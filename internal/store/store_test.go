package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/tapestry/internal/apperr"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "tapestry-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(DialectSQLite, f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleGraph() models.Graph {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	start := 1.5
	return models.Graph{
		Tapestry: models.Tapestry{
			ID: "t1", OwnerID: "u1", Title: "Sample", Theme: schema.ThemeDark,
			StartView: &schema.Rectangle{Width: 100, Height: 50},
			CreatedAt: now, UpdatedAt: now,
		},
		Groups: []models.Group{{ID: "g1", TapestryID: "t1", Name: "G", HasBorder: true}},
		Items: []models.Item{
			{ID: "i1", TapestryID: "t1", Type: schema.ItemText, Title: "hello", Text: "hi", GroupID: "g1"},
			{ID: "i2", TapestryID: "t1", Type: schema.ItemVideo, Source: "tapestries/t1/v.mp4", InternallyHosted: true,
				VideoType: schema.VideoURL, StartTime: &start, Size: schema.Size{Width: 10, Height: 20}},
			{ID: "i3", TapestryID: "t1", Type: schema.ItemActionButton, Text: "go",
				Action: &schema.Action{Type: schema.ActionInternalLink, ItemID: "i1"}},
		},
		Rels: []models.Rel{{
			ID: "r1", TapestryID: "t1", Weight: schema.WeightHeavy,
			From: schema.RelEndpoint{ItemID: "i1", ArrowHead: schema.ArrowNone},
			To:   schema.RelEndpoint{ItemID: "i2", ArrowHead: schema.ArrowPointed, Anchor: schema.Point{X: 1, Y: 0.5}},
		}},
		PresentationSteps: []models.PresentationStep{
			{ID: "s2", TapestryID: "t1", GroupID: "g1", PrevStepID: "s1"},
			{ID: "s1", TapestryID: "t1", ItemID: "i1"},
		},
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	counts, err := db.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if len(counts) != 5 {
		t.Fatalf("counts = %v, want 5 tables", counts)
	}
}

func TestCreateAndGetGraph(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.CreateGraph(ctx, sampleGraph()); err != nil {
		t.Fatalf("CreateGraph: %v", err)
	}

	g, err := db.GetGraph(ctx, "t1")
	if err != nil {
		t.Fatalf("GetGraph: %v", err)
	}
	if g.Tapestry.Theme != schema.ThemeDark || g.Tapestry.StartView == nil || g.Tapestry.StartView.Width != 100 {
		t.Errorf("tapestry = %+v", g.Tapestry)
	}
	if len(g.Items) != 3 || g.Items[1].ID != "i2" {
		t.Fatalf("items = %+v", g.Items)
	}
	if g.Items[0].GroupID != "g1" {
		t.Errorf("item group = %q, want g1", g.Items[0].GroupID)
	}
	if g.Items[1].StartTime == nil || *g.Items[1].StartTime != 1.5 || !g.Items[1].InternallyHosted {
		t.Errorf("video item = %+v", g.Items[1])
	}
	if a := g.Items[2].Action; a == nil || a.ItemID != "i1" {
		t.Errorf("action = %+v", a)
	}
	if len(g.Rels) != 1 || g.Rels[0].To.Anchor.X != 1 || g.Rels[0].Weight != schema.WeightHeavy {
		t.Errorf("rels = %+v", g.Rels)
	}
	if len(g.Groups) != 1 || !g.Groups[0].HasBorder {
		t.Errorf("groups = %+v", g.Groups)
	}
	if len(g.PresentationSteps) != 2 || g.PresentationSteps[0].PrevStepID != "s1" {
		t.Errorf("steps = %+v", g.PresentationSteps)
	}
}

func TestGetGraph_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetGraph(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		g := sampleGraph()
		if err := tx.CreateTapestry(ctx, g.Tapestry); err != nil {
			return err
		}
		if err := tx.CreateItem(ctx, g.Items[0], 0); err == nil {
			t.Error("item with unknown group should violate the foreign key")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	counts, _ := db.Counts(ctx)
	if counts["tapestries"] != 0 {
		t.Errorf("tapestries = %d after rollback, want 0", counts["tapestries"])
	}
}

func TestCreateGraph_DanglingStepRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	g := sampleGraph()
	g.PresentationSteps[0].PrevStepID = "nope"

	if err := db.CreateGraph(ctx, g); err == nil {
		t.Fatal("expected foreign key failure")
	}
	counts, _ := db.Counts(ctx)
	for table, n := range counts {
		if n != 0 {
			t.Errorf("%s has %d rows after failed insert", table, n)
		}
	}
}

func TestListTapestries(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.CreateGraph(ctx, sampleGraph())
	other := models.Graph{Tapestry: models.Tapestry{ID: "t2", OwnerID: "u2", Title: "Other", Theme: schema.ThemeLight}}
	_ = db.CreateGraph(ctx, other)

	all, total, err := db.ListTapestries(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("ListTapestries: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Fatalf("total = %d, len = %d, want 2", total, len(all))
	}

	mine, total, _ := db.ListTapestries(ctx, "u1", 10, 0)
	if total != 1 || mine[0].ID != "t1" || mine[0].Items != 3 {
		t.Errorf("owner list = %+v (total %d)", mine, total)
	}
}

func TestDeleteTapestry_Cascades(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.CreateGraph(ctx, sampleGraph())

	if err := db.DeleteTapestry(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTapestry: %v", err)
	}
	counts, _ := db.Counts(ctx)
	if counts["items"] != 0 || counts["rels"] != 0 {
		t.Errorf("counts after delete = %v", counts)
	}
	if err := db.DeleteTapestry(ctx, "t1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	job := models.Job{ID: "j1", Type: models.JobImport, OwnerID: "u1", ArchiveKey: "archives/a.zip"}
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	pending, err := db.PendingJobs(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("PendingJobs = %v, %v", pending, err)
	}

	ok, err := db.ClaimJob(ctx, "j1")
	if err != nil || !ok {
		t.Fatalf("ClaimJob = %v, %v", ok, err)
	}
	if ok, _ := db.ClaimJob(ctx, "j1"); ok {
		t.Error("second claim should fail")
	}

	if err := db.UpdateJobProgress(ctx, "j1", 0.5); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	got, _ := db.GetJob(ctx, "j1")
	if got.Status != models.JobProcessing || got.Progress != 0.5 {
		t.Errorf("job = %+v", got)
	}

	if err := db.FinishJob(ctx, "j1", models.JobProcessing, "", ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("non-terminal finish err = %v", err)
	}
	if err := db.FinishJob(ctx, "j1", models.JobFailed, "", "root-not-found"); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	got, _ = db.GetJob(ctx, "j1")
	if got.Status != models.JobFailed || got.Progress != 1 || got.Error != "root-not-found" {
		t.Errorf("finished job = %+v", got)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetJob(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	if got := rebind(DialectSQLite, q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
	if got := rebind(DialectPostgres, q); got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Errorf("postgres rebind = %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": DialectSQLite, "sqlite3": DialectSQLite, "Postgres": DialectPostgres, "pgx": DialectPostgres} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Errorf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Error("expected error for unknown driver")
	}
}
