package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

var (
	ErrScanNotFound = errors.New("scan not found")
	ErrScanExists   = errors.New("scan already exists")
	ErrScanAborted  = errors.New("scan was aborted")
	ErrScanFinished = errors.New("scan already finished")
	ErrSiteBusy     = errors.New("site has a running or recent scan")
)

// ScanStore persists sites, scans, raw artifacts and scan errors.
type ScanStore interface {
	UpsertSite(ctx context.Context, url string) (*models.Site, error)
	ListSites(ctx context.Context) ([]models.Site, error)

	CreateScan(ctx context.Context, scan *models.Scan) error
	// CreateScanIfIdle creates scan unless the site has a scan that is still
	// running or started after notBefore. The check and the insert are atomic.
	CreateScanIfIdle(ctx context.Context, scan *models.Scan, notBefore time.Time) error
	GetScan(ctx context.Context, id string) (*models.Scan, error)
	// LastScan returns the most recently started scan of a site.
	LastScan(ctx context.Context, siteURL string) (*models.Scan, error)
	ListRunningScans(ctx context.Context) ([]*models.Scan, error)
	UpdateScanResult(ctx context.Context, id string, result models.ResultMap) error
	FinishScan(ctx context.Context, id string, end time.Time, result models.ResultMap) error
	// AbortStaleScans marks every unfinished scan started before cutoff as
	// aborted and returns their ids.
	AbortStaleScans(ctx context.Context, cutoff, now time.Time, message string) ([]string, error)
	AbortScan(ctx context.Context, id string, now time.Time, message string) error
	// LatestResults returns the newest successfully finished scan per site.
	LatestResults(ctx context.Context) ([]*models.Scan, error)

	SaveRawArtifacts(ctx context.Context, artifacts []models.RawArtifact) error
	RawArtifacts(ctx context.Context, scanID string) ([]models.RawArtifact, error)
	AddScanError(ctx context.Context, scanErr models.ScanError) error
	ScanErrors(ctx context.Context, scanID string) ([]models.ScanError, error)

	Stats(ctx context.Context) (*models.ScanStats, error)
	Close() error
}

// Open builds the store selected by the storage configuration.
func Open(cfg models.StorageConfig, logger *logrus.Logger) (ScanStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(logger), nil
	case "sqlite", "":
		var blobs *BlobStorage
		if cfg.BlobDir != "" {
			b, err := NewBlobStorage(cfg.BlobDir, cfg.Compression, logger)
			if err != nil {
				return nil, err
			}
			blobs = b
		}
		return NewSQLiteStore(cfg.Path, blobs, cfg.MaxInlineSize, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func cloneScan(s *models.Scan) *models.Scan {
	out := *s
	if s.End != nil {
		end := *s.End
		out.End = &end
	}
	if s.Result != nil {
		out.Result = s.Result.Clone()
	}
	return &out
}
