package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func openStores(t *testing.T) map[string]ScanStore {
	t.Helper()
	dir := t.TempDir()
	blobs, err := NewBlobStorage(filepath.Join(dir, "raw"), true, nil)
	if err != nil {
		t.Fatal(err)
	}
	sqlite, err := NewSQLiteStore(filepath.Join(dir, "scorelynx.db"), blobs, 16, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]ScanStore{
		"memory": NewMemoryStore(nil),
		"sqlite": sqlite,
	}
}

func TestScanLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			start := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
			scan := &models.Scan{ID: "scan-1", SiteURL: "http://example.com/", Start: start}
			if err := store.CreateScan(ctx, scan); err != nil {
				t.Fatal(err)
			}
			if err := store.CreateScan(ctx, scan); !errors.Is(err, ErrScanExists) {
				t.Fatalf("duplicate create: %v", err)
			}

			running, err := store.ListRunningScans(ctx)
			if err != nil || len(running) != 1 {
				t.Fatalf("running = %v, %v", running, err)
			}

			if err := store.UpdateScanResult(ctx, "scan-1", models.ResultMap{"reachable": true}); err != nil {
				t.Fatal(err)
			}
			end := time.Now().UTC()
			if err := store.FinishScan(ctx, "scan-1", end, models.ResultMap{"reachable": true, "third_parties_count": 2}); err != nil {
				t.Fatal(err)
			}
			if err := store.FinishScan(ctx, "scan-1", end, nil); !errors.Is(err, ErrScanFinished) {
				t.Fatalf("second finish: %v", err)
			}

			got, err := store.GetScan(ctx, "scan-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status() != models.ScanStatusFinished || !got.Start.Equal(start) {
				t.Fatalf("scan = %+v", got)
			}
			if n, ok := got.Result["third_parties_count"]; !ok || n != 2 && n != float64(2) {
				t.Fatalf("result = %v", got.Result)
			}

			if _, err := store.GetScan(ctx, "missing"); !errors.Is(err, ErrScanNotFound) {
				t.Fatalf("missing scan: %v", err)
			}
		})
	}
}

func TestAbortStaleScans(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			for _, s := range []*models.Scan{
				{ID: "old", SiteURL: "http://a.example/", Start: now.Add(-3 * time.Hour)},
				{ID: "fresh", SiteURL: "http://b.example/", Start: now.Add(-time.Minute)},
			} {
				if err := store.CreateScan(ctx, s); err != nil {
					t.Fatal(err)
				}
			}

			ids, err := store.AbortStaleScans(ctx, now.Add(-2*time.Hour), now, "scan timed out")
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 1 || ids[0] != "old" {
				t.Fatalf("aborted = %v", ids)
			}

			old, _ := store.GetScan(ctx, "old")
			if !old.Aborted || old.End == nil || old.ErrorMessage != "scan timed out" {
				t.Fatalf("old scan = %+v", old)
			}
			if err := store.FinishScan(ctx, "old", now, models.ResultMap{"late": true}); !errors.Is(err, ErrScanAborted) {
				t.Fatalf("late finish: %v", err)
			}
			late := []models.RawArtifact{{ScanID: "old", StageHost: "h1", TestName: "network", Identifier: "dns", Data: []byte(`{}`)}}
			if err := store.SaveRawArtifacts(ctx, late); !errors.Is(err, ErrScanAborted) {
				t.Fatalf("late artifacts: %v", err)
			}
			if err := store.AddScanError(ctx, models.ScanError{ScanID: "old", Host: "h1", TestName: "network", Message: "late"}); !errors.Is(err, ErrScanAborted) {
				t.Fatalf("late error: %v", err)
			}
			if raw, _ := store.RawArtifacts(ctx, "old"); len(raw) != 0 {
				t.Fatalf("stored %d artifacts of an aborted scan", len(raw))
			}
			if errs, _ := store.ScanErrors(ctx, "old"); len(errs) != 0 {
				t.Fatalf("stored errors of an aborted scan: %v", errs)
			}
			fresh, _ := store.GetScan(ctx, "fresh")
			if fresh.Finished() {
				t.Fatal("fresh scan should keep running")
			}

			again, _ := store.AbortStaleScans(ctx, now.Add(-2*time.Hour), now, "scan timed out")
			if len(again) != 0 {
				t.Fatalf("second sweep aborted %v", again)
			}
		})
	}
}

func TestLatestResultsAndLastScan(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC().Add(-time.Hour)
			scans := []*models.Scan{
				{ID: "a1", SiteURL: "http://a.example/", Start: base},
				{ID: "a2", SiteURL: "http://a.example/", Start: base.Add(10 * time.Minute)},
				{ID: "a3", SiteURL: "http://a.example/", Start: base.Add(20 * time.Minute)},
				{ID: "b1", SiteURL: "http://b.example/", Start: base},
			}
			for _, s := range scans {
				if err := store.CreateScan(ctx, s); err != nil {
					t.Fatal(err)
				}
			}
			for _, id := range []string{"a1", "a2", "b1"} {
				if err := store.FinishScan(ctx, id, time.Now(), models.ResultMap{"id": id}); err != nil {
					t.Fatal(err)
				}
			}

			latest, err := store.LatestResults(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(latest) != 2 || latest[0].ID != "a2" || latest[1].ID != "b1" {
				ids := []string{}
				for _, s := range latest {
					ids = append(ids, s.ID)
				}
				t.Fatalf("latest = %v", ids)
			}

			last, err := store.LastScan(ctx, "http://a.example/")
			if err != nil || last.ID != "a3" {
				t.Fatalf("last scan = %v, %v", last, err)
			}
			if _, err := store.LastScan(ctx, "http://never.example/"); !errors.Is(err, ErrScanNotFound) {
				t.Fatalf("unknown site: %v", err)
			}

			sites, _ := store.ListSites(ctx)
			if len(sites) != 2 {
				t.Fatalf("sites = %v", sites)
			}
		})
	}
}

func TestRawArtifactsAndErrors(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.CreateScan(ctx, &models.Scan{ID: "s", SiteURL: "http://example.com/", Start: time.Now()}); err != nil {
				t.Fatal(err)
			}
			large := bytes.Repeat([]byte("x"), 1024)
			artifacts := []models.RawArtifact{
				{ScanID: "s", StageHost: "h1", TestName: "network", Identifier: "dns", MimeType: "application/json", Data: []byte(`{}`)},
				{ScanID: "s", StageHost: "h1", TestName: "browser", Identifier: "page", MimeType: "text/html", Data: large},
			}
			if err := store.SaveRawArtifacts(ctx, artifacts); err != nil {
				t.Fatal(err)
			}
			got, err := store.RawArtifacts(ctx, "s")
			if err != nil || len(got) != 2 {
				t.Fatalf("raw = %v, %v", got, err)
			}
			if !bytes.Equal(got[1].Data, large) {
				t.Fatalf("large artifact lost its data (%d bytes)", len(got[1].Data))
			}

			if err := store.AddScanError(ctx, models.ScanError{ScanID: "s", Host: "h1", TestName: "testssl_mx", Message: "timeout"}); err != nil {
				t.Fatal(err)
			}
			errs, _ := store.ScanErrors(ctx, "s")
			if len(errs) != 1 || errs[0].String() != "h1:testssl_mx:timeout" {
				t.Fatalf("errors = %v", errs)
			}
			if err := store.AddScanError(ctx, models.ScanError{ScanID: "missing", Host: "h1", Message: "x"}); !errors.Is(err, ErrScanNotFound) {
				t.Fatalf("error for unknown scan: %v", err)
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if stats.TotalScans != 1 || stats.RunningScans != 1 || stats.ErrorsByTest["testssl_mx"] != 1 || stats.Sites != 1 {
				t.Fatalf("stats = %+v", stats)
			}
		})
	}
}

func TestBlobStorageDeduplicates(t *testing.T) {
	bs, err := NewBlobStorage(t.TempDir(), true, nil)
	if err != nil {
		t.Fatal(err)
	}
	p1, d1, err := bs.Put([]byte("same content"))
	if err != nil {
		t.Fatal(err)
	}
	p2, d2, _ := bs.Put([]byte("same content"))
	if p1 != p2 || d1 != d2 {
		t.Fatalf("paths %s / %s", p1, p2)
	}
	files, _, err := bs.Stats()
	if err != nil || files != 1 {
		t.Fatalf("files = %d, %v", files, err)
	}
	data, err := bs.Get(p1)
	if err != nil || string(data) != "same content" {
		t.Fatalf("get = %q, %v", data, err)
	}
	if _, err := bs.Get("../etc/passwd"); err == nil {
		t.Fatal("expected error for path traversal")
	}
}

func TestCreateScanIfIdle(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			first := &models.Scan{ID: "first", SiteURL: "http://example.com/", Start: now.Add(-2 * time.Hour)}
			if err := store.CreateScanIfIdle(ctx, first, now.Add(-3*time.Hour)); err != nil {
				t.Fatalf("first scan: %v", err)
			}

			running := &models.Scan{ID: "second", SiteURL: "http://example.com/", Start: now}
			if err := store.CreateScanIfIdle(ctx, running, now); !errors.Is(err, ErrSiteBusy) {
				t.Fatalf("scan while another runs: %v", err)
			}
			if err := store.FinishScan(ctx, "first", now.Add(-time.Hour), models.ResultMap{}); err != nil {
				t.Fatal(err)
			}
			if err := store.CreateScanIfIdle(ctx, running, now.Add(-3*time.Hour)); !errors.Is(err, ErrSiteBusy) {
				t.Fatalf("scan inside the cooldown: %v", err)
			}
			if err := store.CreateScanIfIdle(ctx, running, now.Add(-time.Hour)); err != nil {
				t.Fatalf("scan after the cooldown: %v", err)
			}
			if _, err := store.GetScan(ctx, "second"); err != nil {
				t.Fatal(err)
			}
			if err := store.CreateScanIfIdle(ctx, &models.Scan{ID: "other", SiteURL: "http://other.example/", Start: now}, now); err != nil {
				t.Fatalf("other site: %v", err)
			}
		})
	}
}

func TestCreateScanIfIdleAdmitsOneOfConcurrentScans(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				created int
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					scan := &models.Scan{ID: fmt.Sprintf("scan-%d", i), SiteURL: "http://example.com/", Start: now}
					if err := store.CreateScanIfIdle(ctx, scan, now); err == nil {
						mu.Lock()
						created++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			if created != 1 {
				t.Fatalf("created %d scans for one site, want 1", created)
			}
			running, err := store.ListRunningScans(ctx)
			if err != nil || len(running) != 1 {
				t.Fatalf("running = %v, %v", running, err)
			}
		})
	}
}
