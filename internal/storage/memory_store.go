package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// MemoryStore is an in-process ScanStore for tests and one-shot CLI runs.
type MemoryStore struct {
	mu     sync.RWMutex
	logger *logrus.Logger
	sites  map[string]*models.Site
	scans  map[string]*models.Scan
	raw    map[string][]models.RawArtifact
	errors map[string][]models.ScanError
	nextID int64
}

func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemoryStore{
		logger: logger,
		sites:  make(map[string]*models.Site),
		scans:  make(map[string]*models.Scan),
		raw:    make(map[string][]models.RawArtifact),
		errors: make(map[string][]models.ScanError),
	}
}

func (ms *MemoryStore) UpsertSite(ctx context.Context, url string) (*models.Site, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.upsertSiteLocked(url), nil
}

func (ms *MemoryStore) upsertSiteLocked(url string) *models.Site {
	if site, ok := ms.sites[url]; ok {
		out := *site
		return &out
	}
	ms.nextID++
	site := &models.Site{ID: ms.nextID, URL: url, CreatedAt: time.Now().UTC()}
	ms.sites[url] = site
	out := *site
	return &out
}

func (ms *MemoryStore) ListSites(ctx context.Context) ([]models.Site, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]models.Site, 0, len(ms.sites))
	for _, s := range ms.sites {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (ms *MemoryStore) CreateScan(ctx context.Context, scan *models.Scan) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.scans[scan.ID]; exists {
		return fmt.Errorf("%w: %s", ErrScanExists, scan.ID)
	}
	ms.upsertSiteLocked(scan.SiteURL)
	ms.scans[scan.ID] = cloneScan(scan)
	return nil
}

func (ms *MemoryStore) CreateScanIfIdle(ctx context.Context, scan *models.Scan, notBefore time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.scans[scan.ID]; exists {
		return fmt.Errorf("%w: %s", ErrScanExists, scan.ID)
	}
	for _, other := range ms.scans {
		if other.SiteURL != scan.SiteURL {
			continue
		}
		if other.End == nil || other.Start.After(notBefore) {
			return fmt.Errorf("%w: %s", ErrSiteBusy, scan.SiteURL)
		}
	}
	ms.upsertSiteLocked(scan.SiteURL)
	ms.scans[scan.ID] = cloneScan(scan)
	return nil
}

func (ms *MemoryStore) GetScan(ctx context.Context, id string) (*models.Scan, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	scan, ok := ms.scans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	return cloneScan(scan), nil
}

func (ms *MemoryStore) LastScan(ctx context.Context, siteURL string) (*models.Scan, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var last *models.Scan
	for _, scan := range ms.scans {
		if scan.SiteURL != siteURL {
			continue
		}
		if last == nil || scan.Start.After(last.Start) {
			last = scan
		}
	}
	if last == nil {
		return nil, fmt.Errorf("%w: no scan for %s", ErrScanNotFound, siteURL)
	}
	return cloneScan(last), nil
}

func (ms *MemoryStore) ListRunningScans(ctx context.Context) ([]*models.Scan, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var out []*models.Scan
	for _, scan := range ms.scans {
		if scan.End == nil {
			out = append(out, cloneScan(scan))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (ms *MemoryStore) writableLocked(id string) (*models.Scan, error) {
	scan, ok := ms.scans[id]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	case scan.Aborted:
		return nil, fmt.Errorf("%w: %s", ErrScanAborted, id)
	case scan.End != nil:
		return nil, fmt.Errorf("%w: %s", ErrScanFinished, id)
	}
	return scan, nil
}

func (ms *MemoryStore) acceptsOutputLocked(id string) error {
	scan, ok := ms.scans[id]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	case scan.Aborted:
		return fmt.Errorf("%w: %s", ErrScanAborted, id)
	}
	return nil
}

func (ms *MemoryStore) UpdateScanResult(ctx context.Context, id string, result models.ResultMap) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	scan, err := ms.writableLocked(id)
	if err != nil {
		return err
	}
	scan.Result = result.Clone()
	return nil
}

func (ms *MemoryStore) FinishScan(ctx context.Context, id string, end time.Time, result models.ResultMap) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	scan, err := ms.writableLocked(id)
	if err != nil {
		return err
	}
	end = end.UTC()
	scan.End = &end
	scan.Result = result.Clone()
	return nil
}

func (ms *MemoryStore) AbortStaleScans(ctx context.Context, cutoff, now time.Time, message string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var ids []string
	for id, scan := range ms.scans {
		if scan.End != nil || !scan.Start.Before(cutoff) {
			continue
		}
		end := now.UTC()
		scan.End = &end
		scan.Aborted = true
		scan.ErrorMessage = message
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (ms *MemoryStore) AbortScan(ctx context.Context, id string, now time.Time, message string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	scan, err := ms.writableLocked(id)
	if err != nil {
		return err
	}
	end := now.UTC()
	scan.End = &end
	scan.Aborted = true
	scan.ErrorMessage = message
	return nil
}

func (ms *MemoryStore) LatestResults(ctx context.Context) ([]*models.Scan, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	latest := make(map[string]*models.Scan)
	for _, scan := range ms.scans {
		if scan.End == nil || scan.Aborted {
			continue
		}
		if cur, ok := latest[scan.SiteURL]; !ok || scan.Start.After(cur.Start) {
			latest[scan.SiteURL] = scan
		}
	}
	out := make([]*models.Scan, 0, len(latest))
	for _, scan := range latest {
		out = append(out, cloneScan(scan))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteURL < out[j].SiteURL })
	return out, nil
}

func (ms *MemoryStore) SaveRawArtifacts(ctx context.Context, artifacts []models.RawArtifact) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, a := range artifacts {
		if err := ms.acceptsOutputLocked(a.ScanID); err != nil {
			return err
		}
	}
	for _, a := range artifacts {
		a.Data = append([]byte(nil), a.Data...)
		ms.raw[a.ScanID] = append(ms.raw[a.ScanID], a)
	}
	return nil
}

func (ms *MemoryStore) RawArtifacts(ctx context.Context, scanID string) ([]models.RawArtifact, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]models.RawArtifact(nil), ms.raw[scanID]...), nil
}

func (ms *MemoryStore) AddScanError(ctx context.Context, scanErr models.ScanError) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.acceptsOutputLocked(scanErr.ScanID); err != nil {
		return err
	}
	if scanErr.Created.IsZero() {
		scanErr.Created = time.Now().UTC()
	}
	ms.errors[scanErr.ScanID] = append(ms.errors[scanErr.ScanID], scanErr)
	return nil
}

func (ms *MemoryStore) ScanErrors(ctx context.Context, scanID string) ([]models.ScanError, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]models.ScanError(nil), ms.errors[scanID]...), nil
}

func (ms *MemoryStore) Stats(ctx context.Context) (*models.ScanStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	stats := &models.ScanStats{ErrorsByTest: make(map[string]int), Sites: len(ms.sites)}
	for _, scan := range ms.scans {
		stats.TotalScans++
		switch scan.Status() {
		case models.ScanStatusAborted:
			stats.AbortedScans++
		case models.ScanStatusFinished:
			stats.FinishedScans++
		default:
			stats.RunningScans++
		}
	}
	for _, errs := range ms.errors {
		for _, e := range errs {
			stats.TotalErrors++
			stats.ErrorsByTest[e.TestName]++
		}
	}
	return stats, nil
}

func (ms *MemoryStore) Close() error { return nil }
