package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/storage"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

const abortMessage = "scan exceeded the abort ceiling"

// Sweeper marks scans as aborted once they have been running longer than
// the abort ceiling. Results that arrive later are rejected by the store.
type Sweeper struct {
	store   storage.ScanStore
	ceiling time.Duration
	metrics *utils.MetricsCollector
	logger  *logrus.Logger
	now     func() time.Time
}

func NewSweeper(store storage.ScanStore, ceiling time.Duration, metrics *utils.MetricsCollector, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sweeper{
		store:   store,
		ceiling: ceiling,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep aborts every stale scan once and returns their ids.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	now := s.now().UTC()
	ids, err := s.store.AbortStaleScans(ctx, now.Add(-s.ceiling), now, abortMessage)
	if err != nil {
		return nil, fmt.Errorf("abort stale scans: %w", err)
	}
	if len(ids) > 0 {
		s.metrics.ScansAborted(len(ids))
		s.logger.Warnf("Aborted %d stale scans: %v", len(ids), ids)
	} else {
		s.logger.Debug("No stale scans")
	}
	return ids, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Errorf("Sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
