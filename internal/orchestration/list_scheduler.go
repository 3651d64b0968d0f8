package orchestration

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/scorelynx/internal/storage"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

// SiteTask is one site waiting in a scan list. LastScan is zero for sites
// that were never scanned.
type SiteTask struct {
	URL      string
	LastScan time.Time
	index    int
}

type siteQueue []*SiteTask

func (q siteQueue) Len() int { return len(q) }

func (q siteQueue) Less(i, j int) bool {
	if !q[i].LastScan.Equal(q[j].LastScan) {
		return q[i].LastScan.Before(q[j].LastScan)
	}
	return q[i].URL < q[j].URL
}

func (q siteQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *siteQueue) Push(x interface{}) {
	task := x.(*SiteTask)
	task.index = len(*q)
	*q = append(*q, task)
}

func (q *siteQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[:n-1]
	return task
}

type ListReport struct {
	Scanned  int      `json:"scanned"`
	Aborted  int      `json:"aborted"`
	Rejected int      `json:"rejected"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ListScheduler scans a list of sites, the least recently scanned first.
type ListScheduler struct {
	orchestrator  *Orchestrator
	store         storage.ScanStore
	maxConcurrent int
	logger        *logrus.Logger
}

func NewListScheduler(orchestrator *Orchestrator, store storage.ScanStore, maxConcurrent int, logger *logrus.Logger) *ListScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &ListScheduler{
		orchestrator:  orchestrator,
		store:         store,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Schedule returns the sites in scan order. Duplicate and invalid URLs are
// dropped.
func (ls *ListScheduler) Schedule(ctx context.Context, urls []string) ([]*SiteTask, error) {
	pq := make(siteQueue, 0, len(urls))
	seen := make(map[string]bool, len(urls))

	for _, raw := range urls {
		siteURL, err := utils.NormalizeURL(raw)
		if err != nil {
			ls.logger.Warnf("Skipping %q: %v", raw, err)
			continue
		}
		if seen[siteURL] {
			continue
		}
		seen[siteURL] = true

		task := &SiteTask{URL: siteURL}
		last, err := ls.store.LastScan(ctx, siteURL)
		switch {
		case err == nil:
			task.LastScan = last.Start
		case !errors.Is(err, storage.ErrScanNotFound):
			return nil, fmt.Errorf("look up last scan of %s: %w", siteURL, err)
		}
		pq = append(pq, task)
	}

	heap.Init(&pq)
	ordered := make([]*SiteTask, 0, len(pq))
	for pq.Len() > 0 {
		ordered = append(ordered, heap.Pop(&pq).(*SiteTask))
	}
	return ordered, nil
}

func (ls *ListScheduler) Run(ctx context.Context, urls []string) (*ListReport, error) {
	tasks, err := ls.Schedule(ctx, urls)
	if err != nil {
		return nil, err
	}
	ls.logger.Infof("Scanning %d sites with up to %d in parallel", len(tasks), ls.maxConcurrent)

	var (
		mu     sync.Mutex
		report = &ListReport{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ls.maxConcurrent)

	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			scan, err := ls.orchestrator.RunScan(gctx, task.URL)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrCooldown), errors.Is(err, ErrBlacklisted):
				report.Rejected++
				ls.logger.Infof("Skipping %s: %v", task.URL, err)
			case err != nil:
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", task.URL, err))
			case scan.Aborted:
				report.Aborted++
			default:
				report.Scanned++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, ctx.Err()
}
