package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bl4ck0w1/scorelynx/internal/storage"
	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func TestParseTaskError(t *testing.T) {
	tests := []struct {
		in      string
		want    TaskError
		wantErr bool
	}{
		{in: "scanner-2:testssl_https:exit status 1", want: TaskError{Host: "scanner-2", TestName: "testssl_https", Message: "exit status 1"}},
		{in: "h:browser:dial tcp 10.0.0.1:443: refused", want: TaskError{Host: "h", TestName: "browser", Message: "dial tcp 10.0.0.1:443: refused"}},
		{in: ":network:", want: TaskError{TestName: "network"}},
		{in: "no separators", wantErr: true},
		{in: "host::message", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTaskError(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrMalformedTaskError) {
				t.Errorf("ParseTaskError(%q) err = %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTaskError(%q): %v", tt.in, err)
			continue
		}
		if *got != tt.want {
			t.Errorf("ParseTaskError(%q) = %+v, want %+v", tt.in, *got, tt.want)
		}
		if got.Error() != tt.in {
			t.Errorf("Error() = %q, want %q", got.Error(), tt.in)
		}
	}
}

func TestWireFormatKeepsRawData(t *testing.T) {
	job := Job{
		ID:        "job-1",
		ScanID:    "scan-1",
		TestName:  "network",
		TargetURL: "http://example.com/",
		Previous:  models.ResultMap{"reachable": true},
		Timeout:   time.Minute,
		Options:   suites.Options{ScanID: "scan-1", UserAgent: "ua"},
	}
	data, err := EncodeJob(job)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeJob(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.TestName != job.TestName || decoded.Timeout != job.Timeout || decoded.Previous["reachable"] != true {
		t.Errorf("decoded job = %+v", decoded)
	}

	if _, err := DecodeJob([]byte(`{"id":""}`)); err == nil {
		t.Error("job without id accepted")
	}

	res := TaskResult{
		JobID:    "job-1",
		ScanID:   "scan-1",
		TestName: "network",
		Host:     "worker-3",
		Raw:      []models.RawArtifact{suites.Artifact("network", "dns", "application/json", []byte{0, 1, 2, 255})},
		Err:      &TaskError{Host: "worker-3", TestName: "network", Message: "process: bad json"},
	}
	data, err = EncodeResult(res)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeResult(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Raw) != 1 || string(back.Raw[0].Data) != string([]byte{0, 1, 2, 255}) {
		t.Errorf("raw data lost: %+v", back.Raw)
	}
	if back.Err == nil || back.Err.Message != "process: bad json" {
		t.Errorf("error lost: %+v", back.Err)
	}
}

func TestSweeperAbortsStaleScansOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(quietLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for id, age := range map[string]time.Duration{"old": 3 * time.Hour, "fresh": 10 * time.Minute} {
		if err := store.CreateScan(ctx, &models.Scan{ID: id, SiteURL: "http://" + id + ".example/", Start: now.Add(-age)}); err != nil {
			t.Fatal(err)
		}
	}

	sweeper := NewSweeper(store, 2*time.Hour, nil, quietLogger())
	sweeper.now = func() time.Time { return now }

	ids, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("aborted = %v, want [old]", ids)
	}

	ids, err = sweeper.Sweep(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("second sweep = %v, %v", ids, err)
	}

	if err := store.FinishScan(ctx, "old", now, models.ResultMap{"late": true}); !errors.Is(err, storage.ErrScanAborted) {
		t.Fatalf("late finish err = %v", err)
	}
	scan, _ := store.GetScan(ctx, "old")
	if scan.ErrorMessage != abortMessage || scan.Result["late"] != nil {
		t.Errorf("aborted scan = %+v", scan)
	}
}

func TestListSchedulerOrdersNeverScannedFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, &funcSuite{name: "a"})
	base := time.Now().Add(-48 * time.Hour)

	for i, site := range []string{"http://recent.example/", "http://older.example/"} {
		end := base.Add(time.Duration(1-i) * time.Hour).Add(time.Minute)
		scan := &models.Scan{ID: site, SiteURL: site, Start: base.Add(time.Duration(1-i) * time.Hour), End: &end}
		if err := h.store.CreateScan(ctx, scan); err != nil {
			t.Fatal(err)
		}
	}

	ls := NewListScheduler(h.orch, h.store, 2, quietLogger())
	tasks, err := ls.Schedule(ctx, []string{"recent.example", "older.example", "new.example", "NEW.example", "ftp://bad.example"})
	if err != nil {
		t.Fatal(err)
	}

	var order []string
	for _, task := range tasks {
		order = append(order, task.URL)
	}
	want := []string{"http://new.example/", "http://older.example/", "http://recent.example/"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestListSchedulerRun(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.Scanner.Cooldown = time.Hour
	cfg.Scanner.Blacklist = []string{`blocked\.example`}
	h := newHarness(t, cfg, &funcSuite{name: "a"})

	if _, err := h.orch.RunScan(context.Background(), "seen.example"); err != nil {
		t.Fatal(err)
	}

	ls := NewListScheduler(h.orch, h.store, 3, quietLogger())
	report, err := ls.Run(context.Background(), []string{"one.example", "two.example", "seen.example", "blocked.example"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Scanned != 2 || report.Rejected != 2 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
}
