package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/internal/watchdog"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

// Executor runs a single job under the watchdog. It is shared by the local
// queue and the remote workers.
type Executor struct {
	registry *suites.Registry
	host     string
	metrics  *utils.MetricsCollector
	logger   *logrus.Logger
}

func NewExecutor(registry *suites.Registry, host string, metrics *utils.MetricsCollector, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	if host == "" {
		host = utils.Hostname()
	}
	return &Executor{registry: registry, host: host, metrics: metrics, logger: logger}
}

func (e *Executor) Host() string { return e.host }

type taskOutput struct {
	raw    []models.RawArtifact
	result models.ResultMap
}

func (e *Executor) Execute(ctx context.Context, job Job) TaskResult {
	start := time.Now()
	res := TaskResult{JobID: job.ID, ScanID: job.ScanID, TestName: job.TestName, Host: e.host}

	suite, ok := e.registry.Get(job.TestName)
	if !ok {
		res.Err = &TaskError{Host: e.host, TestName: job.TestName, Message: "unknown test suite"}
		return res
	}

	opts := job.Options
	opts.StageHost = e.host
	if opts.Logger == nil {
		opts.Logger = e.logger
	}
	prev := job.Previous.Clone()

	out, err := watchdog.Run(ctx, job.Timeout, e.logger, func(ctx context.Context) (taskOutput, error) {
		raw, err := suite.Run(ctx, job.TargetURL, prev.Clone(), opts)
		if err != nil {
			return taskOutput{}, fmt.Errorf("run: %w", err)
		}
		for i := range raw {
			raw[i].ScanID = job.ScanID
			raw[i].StageHost = e.host
			if raw[i].TestName == "" {
				raw[i].TestName = job.TestName
			}
		}
		processed, err := suite.Process(ctx, raw, prev.Clone(), opts)
		if err != nil {
			return taskOutput{raw: raw}, fmt.Errorf("process: %w", err)
		}
		return taskOutput{raw: raw, result: processed}, nil
	})
	res.Duration = time.Since(start)

	outcome := utils.OutcomeSuccess
	switch {
	case errors.Is(err, watchdog.ErrTimeout):
		outcome = utils.OutcomeTimeout
		res.Err = &TaskError{Host: e.host, TestName: job.TestName, Message: err.Error(), Timeout: true}
	case err != nil:
		outcome = utils.OutcomeFailure
		res.Err = newTaskError(e.host, job.TestName, err)
		res.Raw = out.raw
	default:
		res.Raw = out.raw
		res.Result = out.result
		if res.Result == nil {
			res.Result = models.ResultMap{}
		}
	}
	e.metrics.TaskDone(job.TestName, outcome, res.Duration)

	entry := e.logger.WithFields(logrus.Fields{"scan_id": job.ScanID, "test": job.TestName})
	if res.Err != nil {
		entry.Warnf("Task failed after %s: %s", utils.HumanizeDuration(res.Duration), res.Err.Message)
	} else {
		entry.Debugf("Task finished in %s with %d keys", utils.HumanizeDuration(res.Duration), len(res.Result))
	}
	return res
}
