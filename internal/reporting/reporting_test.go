package reporting

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testEvaluator() *evaluation.Evaluator {
	checks := evaluation.CheckTable{
		"ssl": {{
			Name:         "https",
			RequiredKeys: []string{"https"},
			Classify: func(k evaluation.Keys) *evaluation.CheckResult {
				if k.Bool("https") {
					return &evaluation.CheckResult{Rating: evaluation.Good(), Description: "The site uses HTTPS."}
				}
				return &evaluation.CheckResult{Rating: evaluation.Bad(), Description: "The site does not use HTTPS."}
			},
		}},
		"privacy": {{
			Name:         "trackers",
			RequiredKeys: []string{"trackers"},
			Classify: func(k evaluation.Keys) *evaluation.CheckResult {
				if k.Int("trackers") == 0 {
					return &evaluation.CheckResult{Rating: evaluation.Good(), Description: "No trackers."}
				}
				return &evaluation.CheckResult{Rating: evaluation.Bad(), Description: "Trackers found."}
			},
		}},
	}
	return evaluation.NewEvaluator(checks, []string{"ssl", "privacy"})
}

func testScans() []*models.Scan {
	return []*models.Scan{
		{ID: "4", SiteURL: "https://d.example/", Result: models.ResultMap{"reachable": false}},
		{ID: "3", SiteURL: "https://c.example/", Result: models.ResultMap{"https": true, "trackers": 3}},
		{ID: "2", SiteURL: "https://b.example/", Result: models.ResultMap{"https": true, "trackers": 0}},
		{ID: "1", SiteURL: "https://a.example/", Result: models.ResultMap{"https": true, "trackers": 0}},
		nil,
	}
}

func TestRankSharesPositionsForTies(t *testing.T) {
	ranked := NewRanker(testEvaluator()).Rank(testScans())

	want := []struct {
		url      string
		position int
	}{
		{"https://a.example/", 1},
		{"https://b.example/", 1},
		{"https://c.example/", 2},
		{"https://d.example/", 3},
	}
	if len(ranked) != len(want) {
		t.Fatalf("ranked %d sites, want %d", len(ranked), len(want))
	}
	for i, w := range want {
		if ranked[i].Scan.SiteURL != w.url || ranked[i].Position != w.position {
			t.Errorf("rank %d = %s at %d, want %s at %d", i, ranked[i].Scan.SiteURL, ranked[i].Position, w.url, w.position)
		}
	}

	counts := RatingCounts(ranked)
	if counts["good"] != 2 || counts["bad"] != 1 || counts["unrateable"] != 1 {
		t.Errorf("RatingCounts = %v", counts)
	}
}

func TestEntry(t *testing.T) {
	ranked := NewRanker(testEvaluator()).Rank(testScans())

	entry := ranked[2].Entry(true)
	if entry.Rating != "bad" || entry.Groups["privacy"].Rating != "bad" || entry.Groups["ssl"].GoodRatio != 1 {
		t.Errorf("entry = %+v", entry)
	}
	if len(entry.Checks) != 2 {
		t.Errorf("checks = %v", entry.Checks)
	}
	if ranked[2].Entry(false).Checks != nil {
		t.Error("checks included without asking")
	}

	unrateable := ranked[3].Entry(true)
	if !unrateable.Unrateable || unrateable.Rating != "unrateable" || unrateable.Groups != nil {
		t.Errorf("unrateable entry = %+v", unrateable)
	}
}

func newGenerator(t *testing.T, key string) *ReportGenerator {
	t.Helper()
	cfg := models.ReportingConfig{OutputDir: t.TempDir(), SigningKey: key, Issuer: "scorelynx-test"}
	rg, err := NewReportGenerator(cfg, NewRanker(testEvaluator()), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return rg
}

func TestGenerateAndRender(t *testing.T) {
	rg := newGenerator(t, "")
	report, err := rg.GenerateRanking(testScans(), RankingOptions{Title: "Universities", WithChecks: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 4 || report.Format != models.ReportFormatText {
		t.Fatalf("report = %+v", report)
	}

	text, err := rg.Render(report, models.ReportFormatText)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Universities", "https://a.example/", "ssl good (100%) | privacy bad (0%)", "[bad] privacy/trackers: Trackers found.", "unrateable"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("text report lacks %q:\n%s", want, text)
		}
	}

	data, err := rg.Render(report, models.ReportFormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	var decoded models.RankingReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Entries[1].Position != 1 || decoded.Ratings["good"] != 2 {
		t.Errorf("decoded = %+v", decoded)
	}

	yamlData, err := rg.Render(report, models.ReportFormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(yamlData), "site_url: https://c.example/") {
		t.Errorf("yaml report:\n%s", yamlData)
	}

	if _, err := rg.Render(report, "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestExportReport(t *testing.T) {
	rg := newGenerator(t, "")
	report, err := rg.GenerateRanking(testScans(), RankingOptions{Title: "Top Sites", Format: models.ReportFormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	path, err := rg.ExportReport(report, "")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(path) != ".json" || !strings.Contains(filepath.Base(path), "top_sites") {
		t.Errorf("path = %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

func TestSignAndVerify(t *testing.T) {
	rg := newGenerator(t, "secret")
	report, err := rg.GenerateRanking(testScans(), RankingOptions{Sign: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Signature == "" {
		t.Fatal("report not signed")
	}
	claims, err := rg.Signer().Verify(report.Signature, report)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Sites != 4 || claims.Issuer != "scorelynx-test" {
		t.Errorf("claims = %+v", claims)
	}

	report.Entries[0].Position = 2
	if _, err := rg.Signer().Verify(report.Signature, report); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("tampered report verified: %v", err)
	}
	report.Entries[0].Position = 1

	other, _ := NewSigner("other", "scorelynx-test")
	if _, err := other.Verify(report.Signature, report); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("foreign key verified: %v", err)
	}

	unsigned := newGenerator(t, "")
	if _, err := unsigned.GenerateRanking(testScans(), RankingOptions{Sign: true}); !errors.Is(err, ErrNoSigningKey) {
		t.Errorf("err = %v, want ErrNoSigningKey", err)
	}
}

func TestLoadDirOverridesTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, rankingTemplate), []byte(`{{range .Entries}}{{.Position}}:{{.SiteURL}} {{end}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	rg := newGenerator(t, "")
	if err := rg.Templates().LoadDir(dir, nil); err != nil {
		t.Fatal(err)
	}
	report, err := rg.GenerateRanking(testScans(), RankingOptions{})
	if err != nil {
		t.Fatal(err)
	}
	text, err := rg.Render(report, models.ReportFormatText)
	if err != nil {
		t.Fatal(err)
	}
	if want := "1:https://a.example/ 1:https://b.example/ 2:https://c.example/ 3:https://d.example/ "; string(text) != want {
		t.Errorf("text = %q", text)
	}
}
