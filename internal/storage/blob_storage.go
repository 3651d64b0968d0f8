package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

// BlobStorage keeps large raw artifacts on disk, addressed by content digest.
type BlobStorage struct {
	baseDir     string
	compression bool
	logger      *logrus.Logger
	mu          sync.RWMutex
}

func NewBlobStorage(baseDir string, compression bool, logger *logrus.Logger) (*BlobStorage, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStorage{baseDir: baseDir, compression: compression, logger: logger}, nil
}

// Put stores data and returns its path relative to the blob directory and its
// digest. Identical content is stored once.
func (bs *BlobStorage) Put(data []byte) (string, string, error) {
	digest := utils.Digest(data)
	rel := filepath.Join(digest[:2], digest)
	if bs.compression {
		rel += ".gz"
	}
	full := filepath.Join(bs.baseDir, rel)

	bs.mu.Lock()
	defer bs.mu.Unlock()

	if utils.FileExists(full) {
		return rel, digest, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".blob_*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	var w io.Writer = tmp
	var gz *gzip.Writer
	if bs.compression {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("write blob: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			_ = os.Remove(tmp.Name())
			return "", "", fmt.Errorf("compress blob: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("atomic rename: %w", err)
	}

	bs.logger.Debugf("Stored blob %s (%s)", rel, utils.HumanizeBytes(int64(len(data))))
	return rel, digest, nil
}

func (bs *BlobStorage) Get(rel string) ([]byte, error) {
	if strings.Contains(rel, "..") {
		return nil, fmt.Errorf("invalid blob path: %s", rel)
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(bs.baseDir, rel))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if !strings.HasSuffix(rel, ".gz") {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip blob: %w", err)
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	return out, nil
}

func (bs *BlobStorage) Stats() (files int, size int64, err error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	err = filepath.Walk(bs.baseDir, func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() && !strings.HasSuffix(info.Name(), ".tmp") {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size, err
}
