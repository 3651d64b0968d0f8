package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// resultGrace is added to a job timeout before the submitter gives up on a
// remote worker.
const resultGrace = 30 * time.Second

func DialRedis(ctx context.Context, cfg models.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func ResultKey(queueKey, jobID string) string {
	return queueKey + ":result:" + jobID
}

// RedisQueue hands jobs to remote workers through a Redis list. Each result is
// pushed to a per-job list that the submitter blocks on.
type RedisQueue struct {
	client   *redis.Client
	queueKey string
	logger   *logrus.Logger
	wg       sync.WaitGroup
}

func NewRedisQueue(client *redis.Client, queueKey string, logger *logrus.Logger) *RedisQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisQueue{client: client, queueKey: queueKey, logger: logger}
}

func (q *RedisQueue) Submit(ctx context.Context, job Job) *Future {
	f := newFuture(job, "redis")

	payload, err := EncodeJob(job)
	if err != nil {
		f.resolve(failedResult(job, "redis", err.Error()))
		return f
	}
	if err := q.client.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		f.resolve(failedResult(job, "redis", fmt.Sprintf("enqueue: %v", err)))
		return f
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		f.resolve(q.await(ctx, job))
	}()
	return f
}

func (q *RedisQueue) await(ctx context.Context, job Job) TaskResult {
	wait := job.Timeout + resultGrace
	if job.Timeout <= 0 {
		wait = 0
	}
	key := ResultKey(q.queueKey, job.ID)

	values, err := q.client.BLPop(ctx, wait, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		q.logger.Warnf("No worker answered job %s (%s) within %s", job.ID, job.TestName, wait)
		res := failedResult(job, "redis", fmt.Sprintf("no result within %s", wait))
		res.Err.Timeout = true
		return res
	case err != nil:
		return failedResult(job, "redis", fmt.Sprintf("await result: %v", err))
	case len(values) != 2:
		return failedResult(job, "redis", "malformed result reply")
	}

	res, err := DecodeResult([]byte(values[1]))
	if err != nil {
		return failedResult(job, "redis", err.Error())
	}
	return res
}

func (q *RedisQueue) Close() error {
	q.wg.Wait()
	return nil
}

type wireArtifact struct {
	models.RawArtifact
	Data []byte `json:"data"`
}

type wireResult struct {
	TaskResult
	Raw []wireArtifact `json:"raw,omitempty"`
}

func EncodeJob(job Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" || job.TestName == "" {
		return Job{}, fmt.Errorf("decode job: missing id or test name")
	}
	return job, nil
}

// EncodeResult serialises a result including the raw artifact bytes, which
// the plain JSON form of RawArtifact omits.
func EncodeResult(res TaskResult) ([]byte, error) {
	w := wireResult{TaskResult: res}
	for _, a := range res.Raw {
		w.Raw = append(w.Raw, wireArtifact{RawArtifact: a, Data: a.Data})
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

func DecodeResult(data []byte) (TaskResult, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return TaskResult{}, fmt.Errorf("decode result: %w", err)
	}
	res := w.TaskResult
	res.Raw = nil
	for _, a := range w.Raw {
		artifact := a.RawArtifact
		artifact.Data = a.Data
		res.Raw = append(res.Raw, artifact)
	}
	return res, nil
}
