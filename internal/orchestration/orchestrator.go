package orchestration

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/storage"
	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

var (
	ErrCooldown     = errors.New("site was scanned too recently")
	ErrBlacklisted  = errors.New("site is blacklisted")
	ErrScanNotFound = errors.New("scan not found")
)

// Notifier is told about every scan that reached a terminal state.
type Notifier interface {
	ScanFinished(ctx context.Context, scan *models.Scan) error
}

type ScanContext struct {
	ScanID     string             `json:"scan_id"`
	SiteURL    string             `json:"site_url"`
	StartTime  time.Time          `json:"start_time"`
	Status     string             `json:"status"`
	Stage      int                `json:"stage"`
	Stages     int                `json:"stages"`
	CancelFunc context.CancelFunc `json:"-"`
}

// Orchestrator runs scans stage by stage. Every stage waits for all of its
// tasks before the next one starts.
type Orchestrator struct {
	plan      suites.Plan
	queue     TaskQueue
	store     storage.ScanStore
	config    *models.Config
	blacklist []*regexp.Regexp
	metrics   *utils.MetricsCollector
	notifier  Notifier
	logger    *logrus.Logger
	now       func() time.Time

	mu          sync.RWMutex
	activeScans map[string]*ScanContext
	wg          sync.WaitGroup
}

func NewOrchestrator(
	registry *suites.Registry,
	queue TaskQueue,
	store storage.ScanStore,
	config *models.Config,
	metrics *utils.MetricsCollector,
	logger *logrus.Logger,
) (*Orchestrator, error) {
	if logger == nil {
		logger = logrus.New()
	}

	plan, err := registry.Plan()
	if err != nil {
		return nil, fmt.Errorf("build execution plan: %w", err)
	}

	blacklist := make([]*regexp.Regexp, 0, len(config.Scanner.Blacklist))
	for _, pattern := range config.Scanner.Blacklist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blacklist pattern %q: %w", pattern, err)
		}
		blacklist = append(blacklist, re)
	}

	logger.Debugf("Execution plan: %s", plan)

	return &Orchestrator{
		plan:        plan,
		queue:       queue,
		store:       store,
		config:      config,
		blacklist:   blacklist,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		activeScans: make(map[string]*ScanContext),
	}, nil
}

func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

func (o *Orchestrator) Plan() suites.Plan { return o.plan }

func (o *Orchestrator) checkBlacklist(siteURL string) error {
	for _, re := range o.blacklist {
		if re.MatchString(siteURL) {
			return fmt.Errorf("%w: %s matches %s", ErrBlacklisted, siteURL, re)
		}
	}
	return nil
}

// CheckScannable reports whether siteURL may be scanned right now. The
// answer can be stale by the time a scan is created; begin repeats the
// cooldown check atomically with the insert.
func (o *Orchestrator) CheckScannable(ctx context.Context, siteURL string) error {
	if err := o.checkBlacklist(siteURL); err != nil {
		return err
	}

	last, err := o.store.LastScan(ctx, siteURL)
	if errors.Is(err, storage.ErrScanNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up last scan: %w", err)
	}
	if !last.Finished() {
		return fmt.Errorf("%w: scan %s is still running", ErrCooldown, last.ID)
	}
	if since := o.now().Sub(last.Start); since < o.config.Scanner.Cooldown {
		return fmt.Errorf("%w: last scan started %s ago", ErrCooldown, utils.HumanizeDuration(since))
	}
	return nil
}

// RunScan scans one site and returns the scan in its terminal state.
func (o *Orchestrator) RunScan(ctx context.Context, rawURL string) (*models.Scan, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scan, scanCtx, err := o.begin(ctx, rawURL, cancel)
	if err != nil {
		return nil, err
	}
	return o.executeScan(ctx, scan, scanCtx)
}

// StartScan scans one site in the background and returns the scan id. The
// scan outlives ctx; use CancelScan to stop it.
func (o *Orchestrator) StartScan(ctx context.Context, rawURL string) (string, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	scan, scanCtx, err := o.begin(ctx, rawURL, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		if _, err := o.executeScan(runCtx, scan, scanCtx); err != nil {
			o.logger.Errorf("Scan %s failed: %v", scan.ID, err)
		}
	}()
	return scan.ID, nil
}

// Wait blocks until every scan started with StartScan is done.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) begin(ctx context.Context, rawURL string, cancel context.CancelFunc) (*models.Scan, *ScanContext, error) {
	siteURL, err := utils.NormalizeURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	if err := o.checkBlacklist(siteURL); err != nil {
		o.metrics.ScanRejected("blacklist")
		return nil, nil, err
	}

	scan := &models.Scan{
		ID:      uuid.NewString(),
		SiteURL: siteURL,
		Start:   o.now().UTC(),
		Result:  models.ResultMap{},
	}
	notBefore := scan.Start.Add(-o.config.Scanner.Cooldown)
	if err := o.store.CreateScanIfIdle(ctx, scan, notBefore); err != nil {
		if errors.Is(err, storage.ErrSiteBusy) {
			o.metrics.ScanRejected("cooldown")
			return nil, nil, o.cooldownError(ctx, siteURL)
		}
		return nil, nil, fmt.Errorf("create scan: %w", err)
	}

	scanCtx := &ScanContext{
		ScanID:     scan.ID,
		SiteURL:    siteURL,
		StartTime:  scan.Start,
		Status:     models.ScanStatusRunning,
		Stages:     len(o.plan),
		CancelFunc: cancel,
	}

	o.mu.Lock()
	o.activeScans[scan.ID] = scanCtx
	o.mu.Unlock()

	o.metrics.ScanStarted()
	o.logger.Infof("Scan %s started for %s", scan.ID, siteURL)
	return scan, scanCtx, nil
}

// cooldownError describes why a busy site was rejected.
func (o *Orchestrator) cooldownError(ctx context.Context, siteURL string) error {
	if err := o.CheckScannable(ctx, siteURL); errors.Is(err, ErrCooldown) {
		return err
	}
	return fmt.Errorf("%w: %s has a running or recent scan", ErrCooldown, siteURL)
}

func (o *Orchestrator) executeScan(ctx context.Context, scan *models.Scan, scanCtx *ScanContext) (*models.Scan, error) {
	defer func() {
		o.mu.Lock()
		delete(o.activeScans, scan.ID)
		o.mu.Unlock()
	}()

	log := o.logger.WithFields(logrus.Fields{"scan_id": scan.ID, "site": scan.SiteURL})
	cumulative := models.ResultMap{}

	for i, stage := range o.plan {
		o.updateScanProgress(scanCtx, i+1)
		log.Debugf("Stage %d/%d: %v", i+1, len(o.plan), stage)

		snapshot := cumulative.Clone()
		futures := make([]*Future, 0, len(stage))
		for _, name := range stage {
			futures = append(futures, o.queue.Submit(ctx, o.newJob(scan, name, snapshot)))
		}
		results := AwaitAll(ctx, futures)

		if ctx.Err() != nil {
			return o.abort(scan, "scan cancelled")
		}

		stageResult, err := o.collect(ctx, scan.ID, results, log)
		if errors.Is(err, storage.ErrScanAborted) {
			log.Warnf("Scan was aborted while stage %d ran; discarding late results", i+1)
			return o.finished(scan.ID, utils.OutcomeAborted)
		}
		if err != nil {
			return nil, err
		}

		cumulative.Merge(stageResult)
		if err := o.store.UpdateScanResult(ctx, scan.ID, cumulative); err != nil {
			if errors.Is(err, storage.ErrScanAborted) {
				log.Warnf("Scan was aborted while stage %d ran; discarding late results", i+1)
				return o.finished(scan.ID, utils.OutcomeAborted)
			}
			return nil, fmt.Errorf("store stage %d result: %w", i+1, err)
		}
	}

	if err := o.store.FinishScan(ctx, scan.ID, o.now(), cumulative); err != nil {
		if errors.Is(err, storage.ErrScanAborted) {
			return o.finished(scan.ID, utils.OutcomeAborted)
		}
		return nil, fmt.Errorf("finish scan: %w", err)
	}
	log.Infof("Scan finished with %d result keys", len(cumulative))
	return o.finished(scan.ID, utils.OutcomeSuccess)
}

func (o *Orchestrator) newJob(scan *models.Scan, test string, snapshot models.ResultMap) Job {
	return Job{
		ID:        uuid.NewString(),
		ScanID:    scan.ID,
		TestName:  test,
		TargetURL: scan.SiteURL,
		Previous:  snapshot.Clone(),
		Timeout:   o.config.TimeoutFor(test),
		Options: suites.Options{
			ScanID:    scan.ID,
			UserAgent: o.config.Global.UserAgent,
			TempDir:   o.config.Global.TempDir,
		},
	}
}

// collect persists raw output and errors of one stage and merges the
// processed results of the tasks that succeeded.
func (o *Orchestrator) collect(ctx context.Context, scanID string, results []TaskResult, log *logrus.Entry) (models.ResultMap, error) {
	stageResult := models.ResultMap{}
	for _, r := range results {
		if len(r.Raw) > 0 {
			if err := o.store.SaveRawArtifacts(ctx, r.Raw); err != nil {
				if errors.Is(err, storage.ErrScanAborted) {
					return nil, err
				}
				log.Errorf("Failed to store raw output of %s: %v", r.TestName, err)
			}
		}

		if r.Failed() {
			log.Warnf("Task failed: %v", r.Err)
			if err := o.store.AddScanError(ctx, r.Err.ScanError(scanID)); err != nil {
				if errors.Is(err, storage.ErrScanAborted) {
					return nil, err
				}
				log.Errorf("Failed to record error of %s: %v", r.TestName, err)
			}
			continue
		}

		if overlap := stageResult.Merge(r.Result); len(overlap) > 0 {
			sort.Strings(overlap)
			log.Warnf("Test %s overwrote result keys of its stage: %v", r.TestName, overlap)
		}
	}
	return stageResult, nil
}

func (o *Orchestrator) abort(scan *models.Scan, message string) (*models.Scan, error) {
	ctx := context.Background()
	err := o.store.AbortScan(ctx, scan.ID, o.now(), message)
	if err != nil && !errors.Is(err, storage.ErrScanAborted) && !errors.Is(err, storage.ErrScanFinished) {
		return nil, fmt.Errorf("abort scan: %w", err)
	}
	o.logger.Infof("Scan %s aborted: %s", scan.ID, message)
	return o.finished(scan.ID, utils.OutcomeAborted)
}

func (o *Orchestrator) finished(id, outcome string) (*models.Scan, error) {
	o.metrics.ScanFinished(outcome)

	ctx := context.Background()
	scan, err := o.store.GetScan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload scan: %w", err)
	}

	if o.notifier != nil {
		if err := o.notifier.ScanFinished(ctx, scan); err != nil {
			o.logger.Warnf("Failed to publish completion of scan %s: %v", id, err)
		}
	}
	return scan, nil
}

func (o *Orchestrator) GetScanStatus(scanID string) (*ScanContext, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	scanContext, exists := o.activeScans[scanID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	copied := *scanContext
	return &copied, nil
}

func (o *Orchestrator) CancelScan(scanID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	scanContext, exists := o.activeScans[scanID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	if scanContext.CancelFunc != nil {
		scanContext.CancelFunc()
	}
	scanContext.Status = "cancelling"

	o.logger.Infof("Scan cancelled: %s", scanID)
	return nil
}

func (o *Orchestrator) ListActiveScans() []*ScanContext {
	o.mu.RLock()
	defer o.mu.RUnlock()

	scans := make([]*ScanContext, 0, len(o.activeScans))
	for _, scan := range o.activeScans {
		copied := *scan
		scans = append(scans, &copied)
	}
	sort.Slice(scans, func(i, j int) bool { return scans[i].StartTime.Before(scans[j].StartTime) })
	return scans
}

func (o *Orchestrator) updateScanProgress(scanContext *ScanContext, stage int) {
	o.mu.Lock()
	scanContext.Stage = stage
	o.mu.Unlock()
}
