package commands

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetEnvPrefix("SCORELYNX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := RegisterDefaults(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	resetViper(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	def := models.DefaultConfig()
	if cfg.Scanner.Cooldown != def.Scanner.Cooldown || cfg.TimeoutFor("testssl_https") != 30*time.Minute {
		t.Errorf("scanner = %+v", cfg.Scanner)
	}
	if !reflect.DeepEqual(cfg.Scanner.EnabledSuites, def.Scanner.EnabledSuites) {
		t.Errorf("enabled suites = %v", cfg.Scanner.EnabledSuites)
	}
	if cfg.Global.ScanHost == "" {
		t.Error("scan host not filled in")
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	resetViper(t)
	t.Setenv("SCORELYNX_SCANNER_QUEUE", "redis")
	t.Setenv("SCORELYNX_SCANNER_COOLDOWN", "1h")
	t.Setenv("SCORELYNX_STORAGE_TYPE", "memory")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.Queue != "redis" || cfg.Scanner.Cooldown != time.Hour || cfg.Storage.Type != "memory" {
		t.Errorf("config = %+v %+v", cfg.Scanner, cfg.Storage)
	}

	t.Setenv("SCORELYNX_SCANNER_QUEUE", "carrier-pigeon")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected validation error")
	}
}

func TestBuildRegistry(t *testing.T) {
	resetViper(t)
	viper.Set("storage.type", "memory")
	viper.Set("scanner.enabled_suites", []string{"network", "serverleak", "webappversion"})

	a, err := newApp()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	registry, err := a.buildRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"network", "serverleak", "webappversion"}) {
		t.Errorf("names = %v", got)
	}
	plan, err := registry.Plan()
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 1 {
		t.Errorf("plan = %s", plan)
	}
}

func TestReadSiteList(t *testing.T) {
	input := `
# universities
https://a.example/
b.example   # trailing comment

   c.example
`
	got, err := readSiteList(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://a.example/", "b.example", "c.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("readSiteList = %v, want %v", got, want)
	}
}

func TestParseValueForKey(t *testing.T) {
	tests := []struct {
		key, value string
		want       interface{}
	}{
		{"scanner.enabled_suites", "network, browser", []string{"network", "browser"}},
		{"api.metrics", "false", false},
		{"api.port", "9090", 9090},
		{"suites.serverleak.rate_limit", "2.5", 2.5},
		{"scanner.cooldown", "90m", "1h30m0s"},
		{"redis.addr", "redis:6379", "redis:6379"},
	}
	for _, tt := range tests {
		if got := parseValueForKey(tt.key, tt.value); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseValueForKey(%q, %q) = %#v, want %#v", tt.key, tt.value, got, tt.want)
		}
	}
}

func TestSetAndLookupNested(t *testing.T) {
	doc := map[string]interface{}{"scanner": map[string]interface{}{"queue": "local"}}
	setNested(doc, []string{"scanner", "cooldown"}, "1h")
	setNested(doc, []string{"api", "port"}, 9000)

	if got := lookupNested(doc, []string{"scanner", "queue"}); got != "local" {
		t.Errorf("scanner.queue = %v", got)
	}
	if got := lookupNested(doc, []string{"scanner", "cooldown"}); got != "1h" {
		t.Errorf("scanner.cooldown = %v", got)
	}
	if got := lookupNested(doc, []string{"api", "port"}); got != 9000 {
		t.Errorf("api.port = %v", got)
	}
	if got := lookupNested(doc, []string{"api", "port", "x"}); got != nil {
		t.Errorf("lookup through a leaf = %v", got)
	}
}

func TestColorLevel(t *testing.T) {
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = original })

	for _, name := range []string{"good", "critical", "aborted", "unrateable"} {
		if got := colorLevel(name); got != name {
			t.Errorf("colorLevel(%q) = %q", name, got)
		}
	}
}

func TestPrintScanSummary(t *testing.T) {
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = original })

	end := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	scan := &models.Scan{
		ID:      "scan-1",
		SiteURL: "https://example.com/",
		Start:   end.Add(-5 * time.Minute),
		End:     &end,
		Result:  models.ResultMap{"reachable": false},
	}

	var buf bytes.Buffer
	printScanSummary(&buf, scan, evaluation.NewEvaluator(nil, nil), true)
	out := buf.String()
	for _, want := range []string{"https://example.com/", "scan-1", "finished", "unrateable"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary lacks %q:\n%s", want, out)
		}
	}

	buf.Reset()
	scan.Aborted = true
	scan.ErrorMessage = "scan timed out"
	printScanSummary(&buf, scan, evaluation.NewEvaluator(nil, nil), true)
	if out := buf.String(); !strings.Contains(out, "aborted") || strings.Contains(out, "Rating") {
		t.Errorf("aborted summary:\n%s", out)
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, &models.ScanStats{
		TotalScans:   5,
		RunningScans: 1,
		ErrorsByTest: map[string]int{"browser": 1, "testssl_https": 3, "network": 1},
	})
	out := buf.String()
	if !strings.Contains(out, "Total Scans:    5") {
		t.Errorf("stats:\n%s", out)
	}
	first := strings.Index(out, "testssl_https")
	if first < 0 || first > strings.Index(out, "browser") || strings.Index(out, "browser") > strings.Index(out, "network") {
		t.Errorf("errors not sorted by count then name:\n%s", out)
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(1, 2, "running"); !strings.HasPrefix(got, "["+strings.Repeat("=", 20)+strings.Repeat(" ", 20)+"]") {
		t.Errorf("progressBar = %q", got)
	}
	if got := progressBar(0, 0, "pending"); !strings.HasSuffix(got, "pending stage 0/0") {
		t.Errorf("progressBar = %q", got)
	}
}
