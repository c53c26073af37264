package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steelworks/bidcoach/internal/coach"
	"github.com/steelworks/bidcoach/internal/config"
	"github.com/steelworks/bidcoach/internal/db"
	"github.com/steelworks/bidcoach/internal/estimate"
	"github.com/steelworks/bidcoach/internal/migrations"
	"github.com/steelworks/bidcoach/internal/seed"
	"github.com/steelworks/bidcoach/internal/store"
)

// currentProject is the open demo project the seed creates; the other three
// seeded projects form its historical fleet.
const currentProject = "depot-retrofit"

func newTestServer(t *testing.T) *server {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "server-test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := migrations.Up(database, "../../migrations"); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := seed.Run(database); err != nil {
		t.Fatalf("seed demo fleet: %v", err)
	}

	srv := &server{
		cfg:      config.Config{EstimatorID: "tester"},
		store:    store.New(database),
		sessions: make(map[string]*coach.Session),
		recalcs:  make(map[string]*estimate.Recalculator),
	}
	if err := srv.refreshFleet(context.Background()); err != nil {
		t.Fatalf("refresh fleet: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestTotalsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/projects/"+currentProject+"/totals?metric=labor", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if got := body["tons"].(float64); got != 3.5 {
		t.Fatalf("tons = %v, want 3.5", got)
	}

	categories := body["categories"].([]any)
	foundWeld := false
	for _, c := range categories {
		cat := c.(map[string]any)
		if cat["key"] == estimate.CatWeld {
			foundWeld = true
			if got := cat["perTon"].(float64); got != 8 {
				t.Fatalf("weld perTon = %v, want 8", got)
			}
		}
	}
	if !foundWeld {
		t.Fatalf("weld category missing: %v", categories)
	}
}

func TestTotalsEndpointRejectsUnknownMetric(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/projects/"+currentProject+"/totals?metric=carbon", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBenchmarksExcludeCurrentProject(t *testing.T) {
	srv := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/projects/"+currentProject+"/benchmarks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if got := body["wonCount"].(float64); got != 2 {
		t.Fatalf("wonCount = %v, want 2", got)
	}
	if got := body["lostCount"].(float64); got != 1 {
		t.Fatalf("lostCount = %v, want 1", got)
	}
	all := body["all"].(map[string]any)
	if _, ok := all[estimate.CatWeld]; !ok {
		t.Fatalf("pooled weld benchmark missing: %v", all)
	}
}

func TestCoachSelectAndApplyFlow(t *testing.T) {
	srv := newTestServer(t)
	base := "/api/projects/" + currentProject

	rec, body := doJSON(t, srv, http.MethodGet, base+"/coach?mode=protect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("coach status = %d, body = %s", rec.Code, rec.Body.String())
	}
	recs := body["recommendations"].([]any)
	if len(recs) == 0 {
		t.Fatal("expected at least one recommendation from the demo fleet")
	}
	first := recs[0].(map[string]any)
	category := first["category"].(string)
	if first["deltaPerTon"].(float64) < 0 {
		t.Fatalf("negative delta: %v", first)
	}

	rec, body = doJSON(t, srv, http.MethodPost, base+"/coach/select",
		map[string]any{"category": category, "selected": true})
	if rec.Code != http.StatusOK || body["state"] != string(coach.StateSelected) {
		t.Fatalf("select: status = %d, body = %v", rec.Code, body)
	}

	rec, body = doJSON(t, srv, http.MethodPost, base+"/coach/apply", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("apply status = %d, body = %s", rec.Code, rec.Body.String())
	}
	line := body["line"].(map[string]any)
	if line["category"] != estimate.AllowanceCategory || line["subCategory"] != estimate.CoachSubCategory {
		t.Fatalf("allowance line not tagged: %v", line)
	}

	// Applying again stacks a second allowance line.
	rec, _ = doJSON(t, srv, http.MethodPost, base+"/coach/apply", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("second apply status = %d", rec.Code)
	}

	lines, err := srv.store.ListLines(context.Background(), currentProject)
	if err != nil {
		t.Fatalf("ListLines: %v", err)
	}
	allowances := 0
	ids := make(map[string]bool)
	for _, l := range lines {
		if ids[l.ID] {
			t.Fatalf("duplicate line id %s", l.ID)
		}
		ids[l.ID] = true
		if l.IsAllowance() {
			allowances++
		}
	}
	if allowances != 2 {
		t.Fatalf("expected 2 stacked allowance lines, got %d", allowances)
	}
}

func TestCoachApplyWithoutSelectionConflicts(t *testing.T) {
	srv := newTestServer(t)
	base := "/api/projects/" + currentProject

	if rec, _ := doJSON(t, srv, http.MethodGet, base+"/coach", nil); rec.Code != http.StatusOK {
		t.Fatalf("coach status = %d", rec.Code)
	}
	rec, _ := doJSON(t, srv, http.MethodPost, base+"/coach/apply", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("apply without selection: status = %d, want 409", rec.Code)
	}
}

func TestRecalcSnapshotTracksAppliedAllowance(t *testing.T) {
	srv := newTestServer(t)
	base := "/api/projects/" + currentProject

	rec, before := doJSON(t, srv, http.MethodGet, base+"/recalc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rec.Code)
	}
	beforeHours := before["laborHours"].(float64)

	rec, body := doJSON(t, srv, http.MethodGet, base+"/coach?mode=protect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("coach status = %d", rec.Code)
	}
	recs := body["recommendations"].([]any)
	if len(recs) == 0 {
		t.Fatal("expected a recommendation to apply")
	}
	category := recs[0].(map[string]any)["category"].(string)
	if rec, _ = doJSON(t, srv, http.MethodPost, base+"/coach/select",
		map[string]any{"category": category, "selected": true}); rec.Code != http.StatusOK {
		t.Fatalf("select status = %d", rec.Code)
	}
	if rec, _ = doJSON(t, srv, http.MethodPost, base+"/coach/apply", nil); rec.Code != http.StatusCreated {
		t.Fatalf("apply status = %d", rec.Code)
	}

	rec, after := doJSON(t, srv, http.MethodGet, base+"/recalc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rec.Code)
	}
	afterHours := after["laborHours"].(float64)
	if afterHours <= beforeHours {
		t.Fatalf("snapshot must include the committed allowance hours: before=%v after=%v",
			beforeHours, afterHours)
	}
}

func TestRecalcAdjustWritesAuditTrail(t *testing.T) {
	srv := newTestServer(t)
	base := "/api/projects/" + currentProject

	rec, before := doJSON(t, srv, http.MethodGet, base+"/recalc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rec.Code)
	}
	beforeTotal := before["waterfall"].(map[string]any)["total"].(float64)

	rec, after := doJSON(t, srv, http.MethodPost, base+"/recalc",
		map[string]any{"parameter": "efficiency.weld", "value": 1.5})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust status = %d, body = %s", rec.Code, rec.Body.String())
	}
	afterTotal := after["waterfall"].(map[string]any)["total"].(float64)
	if afterTotal <= beforeTotal {
		t.Fatalf("raising weld efficiency multiplier must raise the total: %v -> %v", beforeTotal, afterTotal)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, base+"/recalc",
		map[string]any{"parameter": "markup.tax", "value": 5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown parameter: status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/audit?limit=10", nil)
	res := httptest.NewRecorder()
	srv.routes().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("audit status = %d", res.Code)
	}
	var records []map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(records) != 1 || records[0]["parameter"] != "efficiency.weld" {
		t.Fatalf("expected one weld adjustment record, got %v", records)
	}
	if records[0]["userId"] != "tester" {
		t.Fatalf("audit user = %v, want tester", records[0]["userId"])
	}
}
