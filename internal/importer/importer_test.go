package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tapestry/internal/apperr"
	"github.com/starford/tapestry/internal/archive"
	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/exporter"
	"github.com/starford/tapestry/internal/metrics"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
	"github.com/starford/tapestry/internal/store"
	"github.com/starford/tapestry/internal/testutil"
)

type env struct {
	graphs *store.DB
	jobs   *store.DB
	blobs  blob.Provider
	fs     *blob.FS
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs := testutil.TestBlobs(t)
	return &env{
		graphs: testutil.TestDB(t),
		jobs:   testutil.TestDB(t),
		blobs:  fs,
		fs:     fs,
	}
}

func (e *env) reconstructor(opts ...Option) *Reconstructor {
	return New(e.graphs, e.jobs, e.blobs, opts...)
}

func (e *env) put(t *testing.T, key string, data []byte) {
	t.Helper()
	_, err := e.fs.Put(context.Background(), key, bytes.NewReader(data), "")
	require.NoError(t, err)
}

// enqueueArchive writes entries as an archive into the blob store and
// creates a pending job for it.
func (e *env) enqueueArchive(t *testing.T, entries []archive.Entry, p Params) *models.Job {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, archive.Write(context.Background(), &buf, entries, flate.BestSpeed, nil))
	job, err := Enqueue(context.Background(), e.jobs, e.blobs, &buf, p)
	require.NoError(t, err)
	return job
}

func (e *env) assertNoRows(t *testing.T) {
	t.Helper()
	counts, err := e.graphs.Counts(context.Background())
	require.NoError(t, err)
	for table, n := range counts {
		assert.Zero(t, n, "table %s", table)
	}
}

var (
	catBytes   = bytes.Repeat([]byte{0xff, 0xd8, 0xff, 0xe0, 'c', 'a', 't'}, 500)
	thumbBytes = []byte("\x89PNG\r\n\x1a\nthumb")
	coverBytes = []byte("\x89PNG\r\n\x1a\ncover")
)

// seedGraph stores a tapestry touching every entity kind and every hosted
// asset field.
func seedGraph(t *testing.T, e *env) *models.Graph {
	t.Helper()
	e.put(t, "tapestries/t1/cover.png", coverBytes)
	e.put(t, "tapestries/t1/cat.jpg", catBytes)
	e.put(t, "tapestries/t1/cat-thumb.png", thumbBytes)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	g := models.Graph{
		Tapestry: models.Tapestry{
			ID: "t1", OwnerID: "alice", Title: "Trip", Description: "summer", Theme: schema.ThemeDark,
			Thumbnail: "tapestries/t1/cover.png", ThumbnailHosted: true,
			StartView: &schema.Rectangle{Width: 800, Height: 600},
			CreatedAt: now, UpdatedAt: now,
		},
		Groups: []models.Group{{ID: "g1", TapestryID: "t1", Name: "Animals", HasBorder: true}},
		Items: []models.Item{
			{ID: "cat", TapestryID: "t1", GroupID: "g1", Type: schema.ItemImage, Title: "Cat",
				Size:   schema.Size{Width: 200, Height: 100},
				Source: "tapestries/t1/cat.jpg", InternallyHosted: true,
				Thumbnail: &schema.Thumbnail{Source: "tapestries/t1/cat-thumb.png", Size: schema.Size{Width: 20, Height: 10}}},
			{ID: "web", TapestryID: "t1", Type: schema.ItemWebpage, Title: "Site",
				Source: "https://example.com", WebpageType: schema.WebpageGeneric},
			{ID: "btn", TapestryID: "t1", Type: schema.ItemActionButton, Title: "Go",
				Action: &schema.Action{Type: schema.ActionInternalLink, ItemID: "cat"}},
		},
		Rels: []models.Rel{{ID: "r1", TapestryID: "t1", Weight: schema.WeightHeavy,
			From: schema.RelEndpoint{ItemID: "cat", ArrowHead: schema.ArrowNone},
			To:   schema.RelEndpoint{ItemID: "web", Anchor: schema.Point{X: 1, Y: 0.5}, ArrowHead: schema.ArrowPointed}}},
		PresentationSteps: []models.PresentationStep{
			{ID: "s1", TapestryID: "t1", GroupID: "g1"},
			{ID: "s2", TapestryID: "t1", ItemID: "web", PrevStepID: "s1"},
			{ID: "s3", TapestryID: "t1", ItemID: "btn", PrevStepID: "s2"},
		},
	}
	require.NoError(t, e.graphs.CreateGraph(context.Background(), g))
	loaded, err := e.graphs.GetGraph(context.Background(), "t1")
	require.NoError(t, err)
	return loaded
}

func exportGraph(t *testing.T, e *env, g *models.Graph) string {
	t.Helper()
	key, err := exporter.New(exporter.BlobFetcher{Store: e.blobs}).ExportToBlob(context.Background(), g, e.blobs, nil)
	require.NoError(t, err)
	return key
}

func readBlob(t *testing.T, p blob.Provider, key string) []byte {
	t.Helper()
	rc, _, err := p.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func itemByTitle(g *models.Graph, title string) models.Item {
	for _, it := range g.Items {
		if it.Title == title {
			return it
		}
	}
	return models.Item{}
}

func TestRun_RoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orig := seedGraph(t, e)
	key := exportGraph(t, e, orig)

	job, err := EnqueueKey(ctx, e.jobs, key, Params{OwnerID: "bob"})
	require.NoError(t, err)

	uploads := promtest.ToFloat64(metrics.ImportUploads)
	id, err := e.reconstructor().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, orig.Tapestry.ID, id)
	assert.Equal(t, uploads+3, promtest.ToFloat64(metrics.ImportUploads), "cover, source and thumbnail uploaded")

	got, err := e.graphs.GetGraph(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "bob", got.Tapestry.OwnerID)
	assert.Equal(t, "Trip", got.Tapestry.Title)
	assert.Equal(t, "summer", got.Tapestry.Description)
	assert.Equal(t, schema.ThemeDark, got.Tapestry.Theme)
	assert.Equal(t, orig.Tapestry.StartView, got.Tapestry.StartView)
	require.True(t, got.Tapestry.ThumbnailHosted)
	assert.True(t, strings.HasPrefix(got.Tapestry.Thumbnail, KeyPrefix+id+"/"))
	assert.Equal(t, coverBytes, readBlob(t, e.blobs, got.Tapestry.Thumbnail))

	require.Len(t, got.Groups, 1)
	require.Len(t, got.Items, 3)
	require.Len(t, got.Rels, 1)
	require.Len(t, got.PresentationSteps, 3)

	itemIDs := map[string]bool{}
	for _, it := range got.Items {
		assert.NotContains(t, []string{"cat", "web", "btn"}, it.ID)
		itemIDs[it.ID] = true
	}

	cat := itemByTitle(got, "Cat")
	assert.Equal(t, got.Groups[0].ID, cat.GroupID)
	assert.True(t, cat.InternallyHosted)
	assert.True(t, strings.HasPrefix(cat.Source, KeyPrefix+id+"/"))
	assert.True(t, strings.HasSuffix(cat.Source, ".jpg"))
	assert.Equal(t, catBytes, readBlob(t, e.blobs, cat.Source))
	require.NotNil(t, cat.Thumbnail)
	assert.Equal(t, schema.Size{Width: 20, Height: 10}, cat.Thumbnail.Size)
	assert.Equal(t, thumbBytes, readBlob(t, e.blobs, cat.Thumbnail.Source))

	web := itemByTitle(got, "Site")
	assert.Equal(t, "https://example.com", web.Source)
	assert.False(t, web.InternallyHosted)

	btn := itemByTitle(got, "Go")
	require.NotNil(t, btn.Action)
	assert.Equal(t, cat.ID, btn.Action.ItemID, "internal links follow the item map")

	rel := got.Rels[0]
	assert.Equal(t, cat.ID, rel.From.ItemID)
	assert.Equal(t, web.ID, rel.To.ItemID)
	assert.Equal(t, schema.WeightHeavy, rel.Weight)
	assert.Equal(t, schema.Point{X: 1, Y: 0.5}, rel.To.Anchor)

	steps := map[string]models.PresentationStep{}
	for _, s := range got.PresentationSteps {
		steps[s.ID] = s
	}
	for _, s := range got.PresentationSteps {
		if s.PrevStepID != "" {
			_, ok := steps[s.PrevStepID]
			assert.True(t, ok, "prevStepId %s resolves", s.PrevStepID)
		}
		if s.ItemID != "" {
			assert.True(t, itemIDs[s.ItemID])
		}
	}
	assert.Equal(t, got.Groups[0].ID, got.PresentationSteps[0].GroupID)
	assert.Empty(t, got.PresentationSteps[0].PrevStepID)
	assert.Equal(t, got.PresentationSteps[0].ID, got.PresentationSteps[1].PrevStepID)
	assert.Equal(t, got.PresentationSteps[1].ID, got.PresentationSteps[2].PrevStepID)

	_, err = e.blobs.Stat(ctx, key)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "archive is deleted after import")

	done, err := e.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, done.Status)
	assert.Equal(t, 1.0, done.Progress)
	assert.Equal(t, id, done.TapestryID)
	assert.Empty(t, done.Error)
}

func TestRun_ForkOverridesTitle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orig := seedGraph(t, e)

	job, err := EnqueueKey(ctx, e.jobs, exportGraph(t, e, orig), Params{
		Type: models.JobFork, OwnerID: "alice", ParentID: orig.Tapestry.ID, Title: "Trip (copy)",
	})
	require.NoError(t, err)

	id, err := e.reconstructor().Run(ctx, job.ID)
	require.NoError(t, err)

	got, err := e.graphs.GetTapestry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Trip (copy)", got.Title)
	assert.Equal(t, "summer", got.Description)
	assert.Equal(t, orig.Tapestry.ID, got.ParentID)
}

func TestRun_ReportsProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := EnqueueKey(ctx, e.jobs, exportGraph(t, e, seedGraph(t, e)), Params{OwnerID: "bob"})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []models.Job
	_, err = e.reconstructor(WithNotifier(func(j models.Job) {
		mu.Lock()
		seen = append(seen, j)
		mu.Unlock()
	})).Run(ctx, job.ID)
	require.NoError(t, err)

	// processing, three uploads, complete
	require.Len(t, seen, 5)
	assert.Equal(t, models.JobProcessing, seen[0].Status)
	assert.InDelta(t, 0.25, seen[1].Progress, 1e-9)
	assert.InDelta(t, 0.75, seen[3].Progress, 1e-9)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Progress, seen[i-1].Progress)
	}
	assert.Equal(t, models.JobComplete, seen[4].Status)
	assert.Equal(t, 1.0, seen[4].Progress)
}

func TestRun_MigratesV0Archive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	root := `{"title":"old","items":[{"type":"wayback-page","source":"https://x/y"},{"type":"text","text":"note"}],
		"rels":[{"from":{"itemIndex":0},"to":{"itemIndex":1}}]}`
	job := e.enqueueArchive(t, []archive.Entry{{Name: schema.RootEntry, Data: []byte(root)}}, Params{OwnerID: "bob"})

	id, err := e.reconstructor().Run(ctx, job.ID)
	require.NoError(t, err)

	got, err := e.graphs.GetGraph(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "old", got.Tapestry.Title)
	assert.Equal(t, schema.ThemeLight, got.Tapestry.Theme)
	require.Len(t, got.Items, 2)
	assert.Equal(t, schema.ItemWebpage, got.Items[0].Type)
	assert.Equal(t, schema.WebpageIAWayback, got.Items[0].WebpageType)
	assert.Equal(t, "https://x/y", got.Items[0].Source)
	require.Len(t, got.Rels, 1)
	assert.Equal(t, got.Items[0].ID, got.Rels[0].From.ItemID)
	assert.Equal(t, got.Items[1].ID, got.Rels[0].To.ItemID)
}

func TestRun_FormatFailures(t *testing.T) {
	tests := []struct {
		name    string
		entries []archive.Entry
		code    Code
	}{
		{
			name:    "root missing",
			entries: []archive.Entry{{Name: "items/a (a).png", Data: []byte("x")}},
			code:    CodeRootNotFound,
		},
		{
			name:    "future version",
			entries: []archive.Entry{{Name: schema.RootEntry, Data: []byte(`{"version":42,"items":[]}`)}},
			code:    CodeUnrecognizedVersion,
		},
		{
			name:    "not json",
			entries: []archive.Entry{{Name: schema.RootEntry, Data: []byte("<html>")}},
			code:    CodeUnrecognizedVersion,
		},
		{
			name: "missing source entry",
			entries: []archive.Entry{{Name: schema.RootEntry, Data: manifestJSON(t, schema.Item{
				ID: "a", Type: schema.ItemImage, Source: schema.ArchiveRef("items/a (a).png"),
			})}},
			code: CodeMissingEntry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			job := e.enqueueArchive(t, tt.entries, Params{OwnerID: "bob"})

			_, err := e.reconstructor().Run(ctx, job.ID)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))

			got, err := e.jobs.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobFailed, got.Status)
			assert.Equal(t, 1.0, got.Progress)
			assert.Equal(t, string(tt.code), got.Error)

			_, err = e.blobs.Stat(ctx, job.ArchiveKey)
			assert.ErrorIs(t, err, apperr.ErrNotFound, "archive is deleted after a failed import")
			e.assertNoRows(t)
		})
	}
}

func TestRun_UnreadableArchive(t *testing.T) {
	e := newEnv(t)
	job, err := Enqueue(context.Background(), e.jobs, e.blobs, strings.NewReader("not a zip"), Params{OwnerID: "bob"})
	require.NoError(t, err)

	_, err = e.reconstructor().Run(context.Background(), job.ID)
	assert.Equal(t, CodeArchiveUnreadable, CodeOf(err))
}

func TestRun_MissingThumbnailFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	root := manifestJSON(t, schema.Item{
		ID: "a", Type: schema.ItemImage, Source: schema.ArchiveRef("items/a (a).png"),
		Thumbnail: &schema.Thumbnail{Source: schema.ArchiveRef("thumbnails/a (t).png")},
	})
	job := e.enqueueArchive(t, []archive.Entry{
		{Name: schema.RootEntry, Data: root},
		{Name: "items/a (a).png", Data: thumbBytes},
	}, Params{OwnerID: "bob"})

	_, err := e.reconstructor().Run(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, CodeMissingEntry, CodeOf(err))
	e.assertNoRows(t)

	_, err = e.blobs.Stat(ctx, job.ArchiveKey)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "archive is deleted after a failed import")

	got, err := e.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, string(CodeMissingEntry), got.Error)
}

func TestRun_ExternalSourceIsNotHosted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	// A stale hosted flag on a URL source must not survive the import.
	root := manifestJSON(t, schema.Item{
		ID: "a", Type: schema.ItemImage, Title: "Cat",
		Source: "https://example.com/cat.png", InternallyHosted: true,
	})
	job := e.enqueueArchive(t, []archive.Entry{{Name: schema.RootEntry, Data: root}}, Params{OwnerID: "bob"})

	id, err := e.reconstructor().Run(ctx, job.ID)
	require.NoError(t, err)
	got, err := e.graphs.GetGraph(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "https://example.com/cat.png", got.Items[0].Source)
	assert.False(t, got.Items[0].InternallyHosted)

	var exported schema.Manifest
	err = exporter.New(exporter.BlobFetcher{Store: e.blobs}).Export(ctx, exporter.Request{
		Graph: got,
		OnSuccess: func(res exporter.Result) error {
			exported = res.Manifest
			return nil
		},
	})
	require.NoError(t, err)
	require.Len(t, exported.Items, 1)
	assert.Equal(t, "https://example.com/cat.png", exported.Items[0].Source)
}

func TestRun_ZeroLengthSource(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.enqueueArchive(t, []archive.Entry{
		{Name: schema.RootEntry, Data: manifestJSON(t, schema.Item{
			ID: "a", Type: schema.ItemPDF, Source: schema.ArchiveRef("items/a (doc).pdf"),
		})},
		{Name: "items/a (doc).pdf"},
	}, Params{OwnerID: "bob"})

	id, err := e.reconstructor().Run(ctx, job.ID)
	require.NoError(t, err)
	got, err := e.graphs.GetGraph(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, readBlob(t, e.blobs, got.Items[0].Source))
}

// flakyBlobs fails the nth upload of an imported asset.
type flakyBlobs struct {
	blob.Provider
	failAt int

	mu      sync.Mutex
	puts    int
	deleted []string
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) (blob.Object, error) {
	if strings.HasPrefix(key, KeyPrefix) {
		f.mu.Lock()
		f.puts++
		n := f.puts
		f.mu.Unlock()
		if n == f.failAt {
			return blob.Object{}, errors.New("bucket unavailable")
		}
	}
	return f.Provider.Put(ctx, key, r, contentType)
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, key)
	f.mu.Unlock()
	return f.Provider.Delete(ctx, key)
}

func TestRun_CompensatesUploads(t *testing.T) {
	e := newEnv(t)
	flaky := &flakyBlobs{Provider: e.fs, failAt: 3}
	e.blobs = flaky
	ctx := context.Background()

	var items []schema.Item
	entries := []archive.Entry{}
	for _, id := range []string{"a", "b", "c"} {
		name := "items/" + id + " (" + id + ").png"
		items = append(items, schema.Item{ID: id, Type: schema.ItemImage, Source: schema.ArchiveRef(name)})
		entries = append(entries, archive.Entry{Name: name, Data: thumbBytes})
	}
	entries = append(entries, archive.Entry{Name: schema.RootEntry, Data: manifestJSON(t, items...)})
	job := e.enqueueArchive(t, entries, Params{OwnerID: "bob"})

	_, err := e.reconstructor().Run(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, CodeTransaction, CodeOf(err))

	var compensated []string
	for _, key := range flaky.deleted {
		if strings.HasPrefix(key, KeyPrefix) {
			compensated = append(compensated, key)
		}
	}
	require.Len(t, compensated, 2)
	for _, key := range compensated {
		_, err := e.fs.Stat(ctx, key)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	}
	assert.Contains(t, flaky.deleted, job.ArchiveKey)
	e.assertNoRows(t)

	got, err := e.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, string(CodeTransaction), got.Error)
}

func TestRun_ClaimsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.enqueueArchive(t, []archive.Entry{{Name: schema.RootEntry, Data: manifestJSON(t)}}, Params{OwnerID: "bob"})

	r := e.reconstructor()
	_, err := r.Run(ctx, job.ID)
	require.NoError(t, err)
	_, err = r.Run(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotClaimed)
}

func TestRun_SameArchiveTwiceIsIndependent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	g := seedGraph(t, e)

	r := e.reconstructor()
	var ids []string
	for range 2 {
		job, err := EnqueueKey(ctx, e.jobs, exportGraph(t, e, g), Params{OwnerID: "bob"})
		require.NoError(t, err)
		id, err := r.Run(ctx, job.ID)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.NotEqual(t, ids[0], ids[1])
}

func TestWorker_RunsPendingJobs(t *testing.T) {
	e := newEnv(t)
	job := e.enqueueArchive(t, []archive.Entry{{Name: schema.RootEntry, Data: manifestJSON(t)}}, Params{OwnerID: "bob"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(e.reconstructor(), e.jobs, time.Hour, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	w.Notify()

	require.Eventually(t, func() bool {
		got, err := e.jobs.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == models.JobComplete
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestEnqueue_StoresArchive(t *testing.T) {
	e := newEnv(t)
	job, err := Enqueue(context.Background(), e.jobs, e.blobs, strings.NewReader("zip bytes"), Params{OwnerID: "bob", Title: "t"})
	require.NoError(t, err)

	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, models.JobImport, job.Type)
	assert.Equal(t, "t", job.Title)
	assert.True(t, strings.HasPrefix(job.ArchiveKey, ArchivePrefix))
	assert.Equal(t, []byte("zip bytes"), readBlob(t, e.blobs, job.ArchiveKey))
}

func manifestJSON(t *testing.T, items ...schema.Item) []byte {
	t.Helper()
	m := schema.Manifest{
		Version:           schema.Current,
		ID:                "src",
		Title:             "imported",
		Theme:             schema.ThemeLight,
		Items:             items,
		Rels:              []schema.Rel{},
		Groups:            []schema.Group{},
		PresentationSteps: []schema.PresentationStep{},
	}
	if m.Items == nil {
		m.Items = []schema.Item{}
	}
	data, err := m.Encode()
	require.NoError(t, err)
	return data
}
