package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/config"
	"github.com/hyperjump/tabwise/internal/embedding"
	"github.com/hyperjump/tabwise/internal/engine"
	"github.com/hyperjump/tabwise/internal/keyword"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/reconcile"
	"github.com/hyperjump/tabwise/internal/storage"
	"github.com/hyperjump/tabwise/internal/vector"
)

const testDims = 8

func newTestServer(t *testing.T, opts ...Option) (*Server, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(dir + "/db.sqlite")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	vecIdx, _ := vector.NewMemoryIndex(testDims)
	kwIdx, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kwIdx.Close() })
	eng, err := engine.New(store, vecIdx, embedding.NewMockEmbedder(testDims), engine.WithKeywordIndex(kwIdx))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Storage.DatabasePath = dir + "/db.sqlite"
	return NewServer(eng, cfg, zap.NewNop(), opts...), eng
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestSaveObservation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	req := models.SaveRequest{Title: "Go memory model", URL: "https://go.dev/ref/mem"}

	w := do(t, h, http.MethodPost, "/api/v1/observations", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("first save: got %d %s", w.Code, w.Body.String())
	}
	var first models.SaveResult
	decode(t, w, &first)
	if first.Status != models.StatusCreated {
		t.Errorf("status: got %q", first.Status)
	}

	w = do(t, h, http.MethodPost, "/api/v1/observations", req)
	if w.Code != http.StatusOK {
		t.Fatalf("second save: got %d", w.Code)
	}
	var second models.SaveResult
	decode(t, w, &second)
	if second.Status != models.StatusAlreadyExists || second.ID != first.ID {
		t.Errorf("second save: got %+v, want already_exists with id %d", second, first.ID)
	}

	w = do(t, h, http.MethodGet, "/api/v1/observations/"+strconv.FormatInt(first.ID, 10), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	var obs models.Observation
	decode(t, w, &obs)
	if obs.URL != req.URL {
		t.Errorf("url: got %q", obs.URL)
	}
}

func TestSaveObservationValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{"},
		{"empty title", `{"title":"  ","url":"https://a"}`},
		{"empty url", `{"title":"a","url":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/observations", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != http.StatusBadRequest {
				t.Errorf("got %d, want 400", w.Code)
			}
		})
	}
}

func TestSaveObservationUnknownProject(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()
	missing := int64(4242)
	req := models.SaveRequest{Title: "Orphan", URL: "https://orphan", ProjectID: &missing}

	if w := do(t, h, http.MethodPost, "/api/v1/observations", req); w.Code != http.StatusNotFound {
		t.Fatalf("got %d %s, want 404", w.Code, w.Body.String())
	}
	if obs, err := eng.Lookup(context.Background(), req.URL); err != nil || obs != nil {
		t.Errorf("nothing should be stored, got %+v, %v", obs, err)
	}
}

func TestGetObservationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	if w := do(t, h, http.MethodGet, "/api/v1/observations/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/observations/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d", w.Code)
	}
}

func TestProjectsFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/projects", models.ProjectInput{Name: "compilers", Description: "parsing"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d %s", w.Code, w.Body.String())
	}
	var p models.Project
	decode(t, w, &p)

	if w := do(t, h, http.MethodPost, "/api/v1/projects", models.ProjectInput{Name: "compilers"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate name: got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/projects", models.ProjectInput{Name: " "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty name: got %d", w.Code)
	}

	pid := p.ID
	w = do(t, h, http.MethodPost, "/api/v1/observations", models.SaveRequest{Title: "Dragon book", URL: "https://dragon", ProjectID: &pid})
	if w.Code != http.StatusCreated {
		t.Fatalf("save: got %d", w.Code)
	}
	var saved models.SaveResult
	decode(t, w, &saved)

	w = do(t, h, http.MethodGet, "/api/v1/projects", nil)
	var list struct {
		Projects []models.Project `json:"projects"`
	}
	decode(t, w, &list)
	if len(list.Projects) != 1 || list.Projects[0].Name != "compilers" {
		t.Errorf("list: got %+v", list.Projects)
	}

	base := "/api/v1/projects/" + strconv.FormatInt(pid, 10)
	w = do(t, h, http.MethodGet, base+"/research", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("research: got %d", w.Code)
	}
	var research models.ProjectResearch
	decode(t, w, &research)
	if len(research.Observations) != 1 || research.Observations[0].ID != saved.ID {
		t.Errorf("research: got %+v", research.Observations)
	}

	w = do(t, h, http.MethodGet, base+"/context", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("context: got %d", w.Code)
	}
	var chat map[string]interface{}
	decode(t, w, &chat)
	if chat["project_name"] != "compilers" {
		t.Errorf("context: got %v", chat)
	}

	w = do(t, h, http.MethodGet, base+"/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".xlsx") {
		t.Errorf("content disposition: %q", w.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("export body is not a zip container")
	}

	if w := do(t, h, http.MethodGet, "/api/v1/projects/999/research", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown project: got %d", w.Code)
	}
}

func TestAssignProject(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, &models.ProjectInput{Name: "kernels"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.SaveObservation(ctx, &models.SaveRequest{Title: "LWN", URL: "https://lwn.net"})
	if err != nil {
		t.Fatal(err)
	}
	path := "/api/v1/observations/" + strconv.FormatInt(res.ID, 10) + "/project"
	if w := do(t, h, http.MethodPost, path, map[string]int64{"project_id": p.ID}); w.Code != http.StatusOK {
		t.Fatalf("assign: got %d %s", w.Code, w.Body.String())
	}
	obs, err := eng.GetObservation(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if obs.ProjectID == nil || *obs.ProjectID != p.ID {
		t.Errorf("project id: got %v", obs.ProjectID)
	}
}

func TestSearch(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()
	for _, r := range []models.SaveRequest{
		{Title: "Rust ownership", URL: "https://doc.rust-lang.org/book/ch04"},
		{Title: "Go generics", URL: "https://go.dev/doc/tutorial/generics"},
	} {
		r := r
		if _, err := eng.SaveObservation(ctx, &r); err != nil {
			t.Fatal(err)
		}
	}

	for _, mode := range []models.SearchMode{models.ModeSemantic, models.ModeKeyword, models.ModeHybrid} {
		t.Run(string(mode), func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "generics", TopK: 5, Mode: mode})
			if w.Code != http.StatusOK {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
			var resp models.SearchResponse
			decode(t, w, &resp)
			if len(resp.Results) == 0 {
				t.Error("expected results")
			}
		})
	}

	if w := do(t, h, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: ""}); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: got %d", w.Code)
	}
}

func TestRouteAndMerge(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, &models.ProjectInput{Name: "Go generics", Description: "https://go.dev"})
	if err != nil {
		t.Fatal(err)
	}
	pid := p.ID
	if _, err := eng.SaveObservation(ctx, &models.SaveRequest{Title: "Go generics", URL: "https://go.dev", ProjectID: &pid}); err != nil {
		t.Fatal(err)
	}

	// Identical text embeds to the identical vector, so both scores are 1.
	w := do(t, h, http.MethodPost, "/api/v1/route", models.TabQuery{Title: "Go generics", URL: "https://go.dev"})
	if w.Code != http.StatusOK {
		t.Fatalf("route: got %d %s", w.Code, w.Body.String())
	}
	var routed models.Assignment
	decode(t, w, &routed)
	if routed.ProjectID == nil || *routed.ProjectID != pid {
		t.Errorf("route: got %+v", routed)
	}

	w = do(t, h, http.MethodPost, "/api/v1/merge-suggestion", models.TabQuery{Title: "Go generics", URL: "https://go.dev"})
	if w.Code != http.StatusOK {
		t.Fatalf("merge: got %d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/route", models.TabQuery{Title: "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing url: got %d", w.Code)
	}
}

func TestSweep(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)
	if _, err := eng.SaveObservation(ctx, &models.SaveRequest{Title: "old", URL: "https://old", Timestamp: &old}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SaveObservation(ctx, &models.SaveRequest{Title: "new", URL: "https://new"}); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, http.MethodPost, "/api/v1/sweep", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep: got %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Removed int `json:"removed"`
	}
	decode(t, w, &out)
	if out.Removed != 1 {
		t.Errorf("removed: got %d, want 1", out.Removed)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/sweep", map[string]string{"ttl": "soon"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad ttl: got %d", w.Code)
	}
}

func TestStatusAndConsistency(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()
	if _, err := eng.SaveObservation(context.Background(), &models.SaveRequest{Title: "a", URL: "https://a"}); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var st struct {
		Engine engine.Status `json:"engine"`
	}
	decode(t, w, &st)
	if st.Engine.Observations != 1 || st.Engine.IndexedVectors != 1 {
		t.Errorf("status: got %+v", st.Engine)
	}

	w = do(t, h, http.MethodGet, "/api/v1/consistency", nil)
	var check struct {
		OK bool `json:"ok"`
	}
	decode(t, w, &check)
	if !check.OK {
		t.Error("expected consistent index")
	}

	if w := do(t, h, http.MethodPost, "/api/v1/consistency/repair", nil); w.Code != http.StatusOK {
		t.Errorf("repair: got %d", w.Code)
	}
}

type stubReconciler struct {
	calls int
}

func (s *stubReconciler) RunCycle(ctx context.Context) (*reconcile.CycleReport, error) {
	s.calls++
	return &reconcile.CycleReport{CycleID: "c1", Tabs: 2}, nil
}

func TestReconcile(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := do(t, srv.Handler(), http.MethodPost, "/api/v1/reconcile", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("without reconciler: got %d", w.Code)
	}

	stub := &stubReconciler{}
	srv, _ = newTestServer(t, WithReconciler(stub))
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/reconcile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile: got %d", w.Code)
	}
	var report reconcile.CycleReport
	decode(t, w, &report)
	if report.CycleID != "c1" || stub.calls != 1 {
		t.Errorf("report: got %+v, calls %d", report, stub.calls)
	}
}
