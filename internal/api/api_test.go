package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/starford/tapestry/internal/archive"
	"github.com/starford/tapestry/internal/exporter"
	"github.com/starford/tapestry/internal/importer"
	"github.com/starford/tapestry/internal/models"
	"github.com/starford/tapestry/internal/schema"
	"github.com/starford/tapestry/internal/tapestryservice"
	"github.com/starford/tapestry/internal/testutil"
)

// testEnv sets up temp databases, a blob store, the service and the router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*tapestryservice.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*tapestryservice.Service, http.Handler) {
	t.Helper()
	graphs, jobs, blobs := testutil.TestDB(t), testutil.TestDB(t), testutil.TestBlobs(t)
	svc := tapestryservice.NewService(graphs, jobs, blobs,
		exporter.New(exporter.BlobFetcher{Store: blobs}),
		importer.New(graphs, jobs, blobs))
	return svc, NewRouter(svc, authEnabled, token, sseHandler)
}

const seedManifest = `{
	"id": "seed", "title": "Seed: one/two", "theme": "light",
	"items": [
		{"id": "a", "type": "webpage", "source": "https://example.com", "webpageType": "generic"},
		{"id": "b", "type": "text", "text": "hi"}
	],
	"rels": [{"id": "r", "weight": "light",
		"from": {"itemId": "a", "anchor": {"x": 0, "y": 0}, "arrowHead": "none"},
		"to": {"itemId": "b", "anchor": {"x": 1, "y": 1}, "arrowHead": "arrow"}}],
	"groups": [],
	"presentationSteps": []
}`

func createTapestry(t *testing.T, router http.Handler, token string) string {
	t.Helper()
	body := `{"owner_id":"alice","manifest":` + seedManifest + `}`
	req := httptest.NewRequest(http.MethodPost, "/tapestries", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp CreateTapestryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ID == "" {
		t.Fatal("create returned no id")
	}
	return resp.ID
}

func TestCreateAndGetTapestry(t *testing.T) {
	_, router := testEnv(t, "")
	id := createTapestry(t, router, "")

	req := httptest.NewRequest(http.MethodGet, "/tapestries/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var g models.Graph
	_ = json.Unmarshal(w.Body.Bytes(), &g)
	if g.Tapestry.Title != "Seed: one/two" {
		t.Errorf("title = %q", g.Tapestry.Title)
	}
	if len(g.Items) != 2 || len(g.Rels) != 1 {
		t.Fatalf("items = %d, rels = %d", len(g.Items), len(g.Rels))
	}
	if g.Rels[0].From.ItemID != g.Items[0].ID {
		t.Errorf("rel not remapped: %q", g.Rels[0].From.ItemID)
	}
}

func TestCreateTapestry_Invalid(t *testing.T) {
	_, router := testEnv(t, "")

	for name, body := range map[string]string{
		"not json":       `{`,
		"missing owner":  `{"manifest":` + seedManifest + `}`,
		"dangling rel":   `{"owner_id":"a","manifest":` + strings.Replace(seedManifest, `"itemId": "b"`, `"itemId": "zz"`, 1) + `}`,
		"archive source": `{"owner_id":"a","manifest":{"id":"x","theme":"light","items":[{"id":"i","type":"image","source":"file:/items/i.png"}]}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/tapestries", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (%s)", name, w.Code, w.Body.String())
		}
	}
}

func TestListTapestries(t *testing.T) {
	_, router := testEnv(t, "")
	createTapestry(t, router, "")
	createTapestry(t, router, "")

	req := httptest.NewRequest(http.MethodGet, "/tapestries?owner=alice&limit=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp TapestryListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Tapestries) != 1 {
		t.Errorf("total = %d, page = %d", resp.Total, len(resp.Tapestries))
	}
}

func TestDeleteTapestry(t *testing.T) {
	_, router := testEnv(t, "")
	id := createTapestry(t, router, "")

	req := httptest.NewRequest(http.MethodDelete, "/tapestries/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/tapestries/"+id, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestGetTapestry_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	for _, path := range []string{"/tapestries/nope", "/tapestries/nope/export", "/jobs/nope"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, w.Code)
		}
	}
}

func TestExportTapestry(t *testing.T) {
	_, router := testEnv(t, "")
	id := createTapestry(t, router, "")

	req := httptest.NewRequest(http.MethodGet, "/tapestries/"+id+"/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Seed_ one_two.zip") {
		t.Errorf("content disposition = %q", cd)
	}

	data := w.Body.Bytes()
	ar, err := archive.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	raw, err := ar.ReadFile(schema.RootEntry)
	if err != nil {
		t.Fatalf("root.json: %v", err)
	}
	m, err := schema.DecodeManifest(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID != id || len(m.Items) != 2 {
		t.Errorf("manifest id = %q, items = %d", m.ID, len(m.Items))
	}
}

func TestForkTapestry(t *testing.T) {
	svc, router := testEnv(t, "")
	id := createTapestry(t, router, "")

	req := httptest.NewRequest(http.MethodPost, "/tapestries/"+id+"/fork", strings.NewReader(`{"title":"Fork"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("fork status = %d, body = %s", w.Code, w.Body.String())
	}
	var job models.Job
	_ = json.Unmarshal(w.Body.Bytes(), &job)
	if job.Type != models.JobFork || job.ParentID != id || job.OwnerID != "alice" {
		t.Fatalf("unexpected job: %+v", job)
	}

	if _, err := svc.RunJob(context.Background(), job.ID); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	_ = json.Unmarshal(w.Body.Bytes(), &job)
	if job.Status != models.JobComplete || job.Progress != 1 || job.TapestryID == "" {
		t.Errorf("job after run: %+v", job)
	}
}

func TestForkTapestry_EmptyBody(t *testing.T) {
	_, router := testEnv(t, "")
	id := createTapestry(t, router, "")

	req := httptest.NewRequest(http.MethodPost, "/tapestries/"+id+"/fork", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("fork without body = %d, want 202", w.Code)
	}
}

func TestMigrateEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	body := `{"items":[{"type":"wayback-page","source":"https://x/y"}],"rels":[]}`
	req := httptest.NewRequest(http.MethodPost, "/migrate", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("migrate status = %d", w.Code)
	}
	var resp MigrateResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.From != 0 || resp.Upgrades != schema.Current {
		t.Errorf("from = %d, upgrades = %d", resp.From, resp.Upgrades)
	}
	if it := resp.Manifest.Items[0]; it.Type != schema.ItemWebpage || it.WebpageType != schema.WebpageIAWayback {
		t.Errorf("item = %+v", it)
	}

	req = httptest.NewRequest(http.MethodPost, "/migrate", strings.NewReader(`{"version":99}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unrecognized = %d, want 422", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	createTapestry(t, router, "secret123")
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/tapestries", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/tapestries", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/tapestries", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", blockingSSE)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}

	// The query parameter is only honoured for event streams.
	req = httptest.NewRequest(http.MethodGet, "/tapestries?access_token=tok", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on JSON route = %d, want 401", w.Code)
	}
}

// Import upload tests.

func uploadArchive(t *testing.T, router http.Handler, fields map[string]string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if content != nil {
		part, err := mw.CreateFormFile("file", "upload.zip")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.Copy(part, bytes.NewReader(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadArchive(t *testing.T) {
	svc, router := testEnv(t, "")

	var zip bytes.Buffer
	entries := []archive.Entry{{Name: schema.RootEntry, Data: []byte(`{"title":"legacy","items":[],"rels":[]}`)}}
	if err := archive.Write(context.Background(), &zip, entries, flate.BestSpeed, nil); err != nil {
		t.Fatal(err)
	}

	w := uploadArchive(t, router, map[string]string{"owner_id": "bob", "title": "Renamed"}, zip.Bytes())
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var job models.Job
	_ = json.Unmarshal(w.Body.Bytes(), &job)
	if job.Status != models.JobPending || job.OwnerID != "bob" || job.Title != "Renamed" {
		t.Fatalf("unexpected job: %+v", job)
	}

	id, err := svc.RunJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	g, err := svc.GetGraph(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if g.Tapestry.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", g.Tapestry.Title)
	}
}

func TestUploadArchive_MissingFields(t *testing.T) {
	_, router := testEnv(t, "")

	if w := uploadArchive(t, router, map[string]string{"owner_id": "bob"}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing file = %d, want 400", w.Code)
	}
	if w := uploadArchive(t, router, nil, []byte("zip")); w.Code != http.StatusBadRequest {
		t.Errorf("missing owner = %d, want 400", w.Code)
	}
}

func TestUploadArchive_AuthProtected(t *testing.T) {
	_, router := testEnv(t, "secret")
	if w := uploadArchive(t, router, map[string]string{"owner_id": "bob"}, []byte("zip")); w.Code != http.StatusUnauthorized {
		t.Errorf("upload without token = %d, want 401", w.Code)
	}
}

func TestArchiveName(t *testing.T) {
	cases := map[string]string{
		"Trip":        "Trip.zip",
		"  ":          "tapestry.zip",
		`a/b\c:d`:     "a_b_c_d.zip",
		"line\nbreak": "line_break.zip",
	}
	for in, want := range cases {
		if got := archiveName(in); got != want {
			t.Errorf("archiveName(%q) = %q, want %q", in, got, want)
		}
	}
}
