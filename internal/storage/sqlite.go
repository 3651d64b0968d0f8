package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists scans in SQLite. Raw artifacts larger than
// maxInline bytes go to the blob storage and only their path is kept.
type SQLiteStore struct {
	db        *sql.DB
	blobs     *BlobStorage
	maxInline int
	logger    *logrus.Logger
}

func NewSQLiteStore(path string, blobs *BlobStorage, maxInline int, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Infof("SQLite store opened at %s", path)
	return &SQLiteStore{db: db, blobs: blobs, maxInline: maxInline, logger: logger}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) UpsertSite(ctx context.Context, url string) (*models.Site, error) {
	return upsertSite(ctx, s.db, url)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func upsertSite(ctx context.Context, q execQuerier, url string) (*models.Site, error) {
	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx,
		`INSERT INTO sites (url, created_at) VALUES (?, ?) ON CONFLICT(url) DO NOTHING`,
		url, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("insert site: %w", err)
	}
	var (
		site    models.Site
		created int64
	)
	if err := q.QueryRowContext(ctx, `SELECT id, url, created_at FROM sites WHERE url = ?`, url).
		Scan(&site.ID, &site.URL, &created); err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	site.CreatedAt = fromNanos(created)
	return &site, nil
}

func (s *SQLiteStore) ListSites(ctx context.Context) ([]models.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, created_at FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []models.Site
	for rows.Next() {
		var (
			site    models.Site
			created int64
		)
		if err := rows.Scan(&site.ID, &site.URL, &created); err != nil {
			return nil, err
		}
		site.CreatedAt = fromNanos(created)
		out = append(out, site)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateScan(ctx context.Context, scan *models.Scan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	site, err := upsertSite(ctx, tx, scan.SiteURL)
	if err != nil {
		return err
	}
	result, err := encodeResult(scan.Result)
	if err != nil {
		return err
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans WHERE id = ?`, scan.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check scan: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrScanExists, scan.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scans (id, site_id, started_at, ended_at, aborted, error_message, result) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scan.ID, site.ID, scan.Start.UTC().UnixNano(), nullableNanos(scan.End), scan.Aborted, scan.ErrorMessage, result); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateScanIfIdle(ctx context.Context, scan *models.Scan, notBefore time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	site, err := upsertSite(ctx, tx, scan.SiteURL)
	if err != nil {
		return err
	}
	result, err := encodeResult(scan.Result)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO scans (id, site_id, started_at, ended_at, aborted, error_message, result)
		 SELECT ?, ?, ?, NULL, 0, '', ?
		 WHERE NOT EXISTS (
		   SELECT 1 FROM scans WHERE site_id = ? AND (ended_at IS NULL OR started_at > ?))`,
		scan.ID, site.ID, scan.Start.UTC().UnixNano(), result, site.ID, notBefore.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSiteBusy, scan.SiteURL)
	}
	return tx.Commit()
}

const scanColumns = `s.id, t.url, s.started_at, s.ended_at, s.aborted, s.error_message, s.result`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(row rowScanner) (*models.Scan, error) {
	var (
		scan    models.Scan
		started int64
		ended   sql.NullInt64
		result  sql.NullString
	)
	if err := row.Scan(&scan.ID, &scan.SiteURL, &started, &ended, &scan.Aborted, &scan.ErrorMessage, &result); err != nil {
		return nil, err
	}
	scan.Start = fromNanos(started)
	if ended.Valid {
		end := fromNanos(ended.Int64)
		scan.End = &end
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &scan.Result); err != nil {
			return nil, fmt.Errorf("decode result of scan %s: %w", scan.ID, err)
		}
	}
	return &scan, nil
}

func (s *SQLiteStore) queryScans(ctx context.Context, query string, args ...interface{}) ([]*models.Scan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, scan)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetScan(ctx context.Context, id string) (*models.Scan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scans s JOIN sites t ON t.id = s.site_id WHERE s.id = ?`, id)
	scan, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	return scan, err
}

func (s *SQLiteStore) LastScan(ctx context.Context, siteURL string) (*models.Scan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scans s JOIN sites t ON t.id = s.site_id
		 WHERE t.url = ? ORDER BY s.started_at DESC LIMIT 1`, siteURL)
	scan, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no scan for %s", ErrScanNotFound, siteURL)
	}
	return scan, err
}

func (s *SQLiteStore) ListRunningScans(ctx context.Context) ([]*models.Scan, error) {
	scans, err := s.queryScans(ctx,
		`SELECT `+scanColumns+` FROM scans s JOIN sites t ON t.id = s.site_id
		 WHERE s.ended_at IS NULL ORDER BY s.started_at`)
	if err != nil {
		return nil, fmt.Errorf("list running scans: %w", err)
	}
	return scans, nil
}

// writable fails unless the scan exists and is still running.
func (s *SQLiteStore) writable(ctx context.Context, tx *sql.Tx, id string) error {
	var (
		ended   sql.NullInt64
		aborted bool
	)
	err := tx.QueryRowContext(ctx, `SELECT ended_at, aborted FROM scans WHERE id = ?`, id).Scan(&ended, &aborted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	case err != nil:
		return fmt.Errorf("load scan state: %w", err)
	case aborted:
		return fmt.Errorf("%w: %s", ErrScanAborted, id)
	case ended.Valid:
		return fmt.Errorf("%w: %s", ErrScanFinished, id)
	}
	return nil
}

// acceptsOutput fails when the scan is unknown or was aborted. Finished
// scans still take late errors and artifacts.
func (s *SQLiteStore) acceptsOutput(ctx context.Context, tx *sql.Tx, id string) error {
	var aborted bool
	err := tx.QueryRowContext(ctx, `SELECT aborted FROM scans WHERE id = ?`, id).Scan(&aborted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	case err != nil:
		return fmt.Errorf("load scan state: %w", err)
	case aborted:
		return fmt.Errorf("%w: %s", ErrScanAborted, id)
	}
	return nil
}

func (s *SQLiteStore) UpdateScanResult(ctx context.Context, id string, result models.ResultMap) error {
	return s.updateRunning(ctx, id, nil, result)
}

func (s *SQLiteStore) FinishScan(ctx context.Context, id string, end time.Time, result models.ResultMap) error {
	return s.updateRunning(ctx, id, &end, result)
}

func (s *SQLiteStore) updateRunning(ctx context.Context, id string, end *time.Time, result models.ResultMap) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.writable(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scans SET result = ?, ended_at = ? WHERE id = ?`,
		encoded, nullableNanos(end), id); err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AbortStaleScans(ctx context.Context, cutoff, now time.Time, message string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM scans WHERE ended_at IS NULL AND started_at < ? ORDER BY id`, cutoff.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("select stale scans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE scans SET ended_at = ?, aborted = 1, error_message = ? WHERE id = ?`,
			now.UTC().UnixNano(), message, id); err != nil {
			return nil, fmt.Errorf("abort scan %s: %w", id, err)
		}
	}
	return ids, tx.Commit()
}

func (s *SQLiteStore) AbortScan(ctx context.Context, id string, now time.Time, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.writable(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scans SET ended_at = ?, aborted = 1, error_message = ? WHERE id = ?`,
		now.UTC().UnixNano(), message, id); err != nil {
		return fmt.Errorf("abort scan %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LatestResults(ctx context.Context) ([]*models.Scan, error) {
	scans, err := s.queryScans(ctx,
		`SELECT `+scanColumns+` FROM scans s JOIN sites t ON t.id = s.site_id
		 WHERE s.ended_at IS NOT NULL AND s.aborted = 0
		   AND s.started_at = (
		     SELECT MAX(x.started_at) FROM scans x
		     WHERE x.site_id = s.site_id AND x.ended_at IS NOT NULL AND x.aborted = 0)
		 ORDER BY t.url`)
	if err != nil {
		return nil, fmt.Errorf("latest results: %w", err)
	}
	return scans, nil
}

func (s *SQLiteStore) SaveRawArtifacts(ctx context.Context, artifacts []models.RawArtifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	checked := make(map[string]bool)
	for _, a := range artifacts {
		if checked[a.ScanID] {
			continue
		}
		if err := s.acceptsOutput(ctx, tx, a.ScanID); err != nil {
			return err
		}
		checked[a.ScanID] = true
	}

	for _, a := range artifacts {
		data := a.Data
		var filePath, digest string
		if s.blobs != nil && s.maxInline > 0 && len(a.Data) > s.maxInline {
			filePath, digest, err = s.blobs.Put(a.Data)
			if err != nil {
				return fmt.Errorf("store %s/%s: %w", a.TestName, a.Identifier, err)
			}
			data = nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO raw_results (scan_id, stage_host, test_name, identifier, mime_type, data, file_path, digest, size)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ScanID, a.StageHost, a.TestName, a.Identifier, a.MimeType, data, filePath, digest, len(a.Data)); err != nil {
			return fmt.Errorf("insert raw result: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RawArtifacts(ctx context.Context, scanID string) ([]models.RawArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_id, stage_host, test_name, identifier, mime_type, data, file_path
		 FROM raw_results WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list raw results: %w", err)
	}
	defer rows.Close()

	var out []models.RawArtifact
	for rows.Next() {
		var a models.RawArtifact
		if err := rows.Scan(&a.ScanID, &a.StageHost, &a.TestName, &a.Identifier, &a.MimeType, &a.Data, &a.FilePath); err != nil {
			return nil, err
		}
		if a.FilePath != "" && s.blobs != nil {
			data, err := s.blobs.Get(a.FilePath)
			if err != nil {
				s.logger.Warnf("Raw result %s/%s of scan %s is missing its blob: %v", a.TestName, a.Identifier, scanID, err)
			} else {
				a.Data = data
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddScanError(ctx context.Context, scanErr models.ScanError) error {
	if scanErr.Created.IsZero() {
		scanErr.Created = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.acceptsOutput(ctx, tx, scanErr.ScanID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_errors (scan_id, host, test_name, message, created) VALUES (?, ?, ?, ?, ?)`,
		scanErr.ScanID, scanErr.Host, scanErr.TestName, scanErr.Message, scanErr.Created.UnixNano()); err != nil {
		return fmt.Errorf("insert scan error: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ScanErrors(ctx context.Context, scanID string) ([]models.ScanError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_id, host, test_name, message, created FROM scan_errors WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list scan errors: %w", err)
	}
	defer rows.Close()

	var out []models.ScanError
	for rows.Next() {
		var (
			e       models.ScanError
			created int64
		)
		if err := rows.Scan(&e.ScanID, &e.Host, &e.TestName, &e.Message, &created); err != nil {
			return nil, err
		}
		e.Created = fromNanos(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.ScanStats, error) {
	stats := &models.ScanStats{ErrorsByTest: make(map[string]int)}
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN ended_at IS NOT NULL AND aborted = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN aborted = 1 THEN 1 ELSE 0 END), 0)
		FROM scans`).Scan(&stats.TotalScans, &stats.RunningScans, &stats.FinishedScans, &stats.AbortedScans)
	if err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&stats.Sites); err != nil {
		return nil, fmt.Errorf("site stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT test_name, COUNT(*) FROM scan_errors GROUP BY test_name`)
	if err != nil {
		return nil, fmt.Errorf("error stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			test  string
			count int
		)
		if err := rows.Scan(&test, &count); err != nil {
			return nil, err
		}
		stats.ErrorsByTest[test] = count
		stats.TotalErrors += count
	}
	return stats, rows.Err()
}

func encodeResult(result models.ResultMap) (interface{}, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}
