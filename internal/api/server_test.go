package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/internal/reporting"
	"github.com/bl4ck0w1/scorelynx/internal/storage"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	logger := quietLogger()
	store := storage.NewMemoryStore(logger)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	scans := []struct {
		id, url string
		result  models.ResultMap
	}{
		{"s1", "http://good.example/", models.ResultMap{"reachable": true, "leaks": []string{}, "success": true}},
		{"s2", "http://leaky.example/", models.ResultMap{"reachable": true, "leaks": []string{".git/HEAD"}, "success": true}},
		{"s3", "http://down.example/", models.ResultMap{"reachable": false}},
	}
	for _, s := range scans {
		if err := store.CreateScan(ctx, &models.Scan{ID: s.id, SiteURL: s.url, Start: start}); err != nil {
			t.Fatal(err)
		}
		if err := store.FinishScan(ctx, s.id, start.Add(time.Minute), s.result); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.CreateScan(ctx, &models.Scan{ID: "running", SiteURL: "http://slow.example/", Start: start}); err != nil {
		t.Fatal(err)
	}
	if err := store.AddScanError(ctx, models.ScanError{ScanID: "s2", Host: "worker-1", TestName: "browser", Message: "timeout"}); err != nil {
		t.Fatal(err)
	}

	evaluator := evaluation.NewEvaluator(nil, nil)
	generator, err := reporting.NewReportGenerator(models.ReportingConfig{OutputDir: t.TempDir()}, reporting.NewRanker(evaluator), logger)
	if err != nil {
		t.Fatal(err)
	}
	metrics := utils.NewMetricsCollector(false)
	cfg := models.APIConfig{Timeout: 5 * time.Second, Metrics: true}
	return NewServer(cfg, store, generator, evaluator, metrics.Handler(), logger), store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetScan(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/scans/s2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		ID     string             `json:"id"`
		Status string             `json:"status"`
		Errors []models.ScanError `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "s2" || resp.Status != models.ScanStatusFinished || len(resp.Errors) != 1 {
		t.Errorf("response = %+v", resp)
	}

	if rec := get(t, srv, "/scans/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing scan status = %d", rec.Code)
	}
}

func TestSiteEvaluation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/sites/evaluation?url=LEAKY.example")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp EvaluationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ScanID != "s2" || resp.SiteURL != "http://leaky.example/" {
		t.Errorf("response = %+v", resp)
	}
	found := false
	for _, c := range resp.Checks {
		if c.Group == "security" && c.Name == "leaks" {
			found = true
		}
	}
	if !found {
		t.Errorf("leaks check missing from %+v", resp.Checks)
	}

	rec = get(t, srv, "/sites/evaluation?url=down.example")
	if !strings.Contains(rec.Body.String(), `"rating":"unrateable"`) {
		t.Errorf("unreachable site body = %s", rec.Body)
	}

	tests := map[string]int{
		"/sites/evaluation":                    http.StatusBadRequest,
		"/sites/evaluation?url=ftp://x.org":    http.StatusBadRequest,
		"/sites/evaluation?url=slow.example":   http.StatusNotFound,
		"/sites/evaluation?url=absent.example": http.StatusNotFound,
	}
	for path, want := range tests {
		if rec := get(t, srv, path); rec.Code != want {
			t.Errorf("%s status = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestRanking(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/ranking")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var report models.RankingReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 3 {
		t.Fatalf("entries = %+v", report.Entries)
	}
	if report.Entries[0].SiteURL != "http://good.example/" || report.Entries[2].SiteURL != "http://down.example/" {
		t.Errorf("order = %s, %s, %s", report.Entries[0].SiteURL, report.Entries[1].SiteURL, report.Entries[2].SiteURL)
	}

	rec = get(t, srv, "/ranking?format=text&title=Example")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "Example") {
		t.Errorf("text ranking %d: %s", rec.Code, rec.Body)
	}
	if rec := get(t, srv, "/ranking?format=pdf"); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d", rec.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/stats")
	var stats models.ScanStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalScans != 4 || stats.RunningScans != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if rec := get(t, srv, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "scorelynx_active_scans") {
		t.Errorf("metrics %d: %s", rec.Code, rec.Body)
	}
	if rec := get(t, srv, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}
