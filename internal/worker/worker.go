package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/orchestration"
)

type Config struct {
	QueueKey     string
	ResultTTL    time.Duration
	Concurrency  int
	PollTimeout  time.Duration
	ErrorBackoff time.Duration
}

// Worker pulls jobs from the Redis task list, runs them with the local
// executor and pushes each result to the list the submitter waits on.
type Worker struct {
	cfg      Config
	client   *redis.Client
	executor *orchestration.Executor
	logger   *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, client *redis.Client, executor *orchestration.Executor, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	return &Worker{cfg: cfg, client: client, executor: executor, logger: logger}
}

func (w *Worker) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel

	w.logger.Infof("Worker %s starting %d loops on %s", w.executor.Host(), w.cfg.Concurrency, w.cfg.QueueKey)
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
}

// Stop ends polling. Jobs already running finish and report their results.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.logger.WithField("loop", id)

	for {
		if ctx.Err() != nil {
			log.Debug("Loop exiting")
			return
		}

		values, err := w.client.BRPop(ctx, w.cfg.PollTimeout, w.cfg.QueueKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Warnf("Poll failed: %v, retrying", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		case len(values) != 2:
			continue
		}

		// Jobs are not tied to the poll context so a shutdown does not leave
		// a submitter waiting for a result that will never come.
		jobID, payload, err := w.Handle(context.WithoutCancel(ctx), []byte(values[1]))
		if err != nil {
			log.Errorf("Dropping job: %v", err)
			continue
		}
		if err := w.publish(context.WithoutCancel(ctx), jobID, payload); err != nil {
			log.Errorf("Failed to push result of job %s: %v", jobID, err)
		}
	}
}

// Handle runs one encoded job and returns its id and encoded result.
func (w *Worker) Handle(ctx context.Context, data []byte) (string, []byte, error) {
	job, err := orchestration.DecodeJob(data)
	if err != nil {
		return "", nil, err
	}

	res := w.executor.Execute(ctx, job)
	payload, err := orchestration.EncodeResult(res)
	if err != nil {
		return job.ID, nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	return job.ID, payload, nil
}

func (w *Worker) publish(ctx context.Context, jobID string, payload []byte) error {
	key := orchestration.ResultKey(w.cfg.QueueKey, jobID)
	pipe := w.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.Expire(ctx, key, w.cfg.ResultTTL)
	_, err := pipe.Exec(ctx)
	return err
}
