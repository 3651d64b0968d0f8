package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// Job is one test suite run against one site. Previous is a private snapshot
// of the results of all earlier stages.
type Job struct {
	ID        string           `json:"id"`
	ScanID    string           `json:"scan_id"`
	TestName  string           `json:"test_name"`
	TargetURL string           `json:"target_url"`
	Previous  models.ResultMap `json:"previous"`
	Timeout   time.Duration    `json:"timeout"`
	Options   suites.Options   `json:"options"`
}

type TaskResult struct {
	JobID    string               `json:"job_id"`
	ScanID   string               `json:"scan_id"`
	TestName string               `json:"test_name"`
	Host     string               `json:"host"`
	Raw      []models.RawArtifact `json:"raw,omitempty"`
	Result   models.ResultMap     `json:"result,omitempty"`
	Err      *TaskError           `json:"error,omitempty"`
	Duration time.Duration        `json:"duration"`
}

func (r TaskResult) Failed() bool { return r.Err != nil }

// TaskError is the failure of a single task. Its string form is
// "host:test_name:message".
type TaskError struct {
	Host     string `json:"host"`
	TestName string `json:"test_name"`
	Message  string `json:"message"`
	Timeout  bool   `json:"timeout,omitempty"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s:%s:%s", e.Host, e.TestName, e.Message)
}

func (e *TaskError) ScanError(scanID string) models.ScanError {
	return models.ScanError{ScanID: scanID, Host: e.Host, TestName: e.TestName, Message: e.Message}
}

var ErrMalformedTaskError = errors.New("malformed task error")

// ParseTaskError reads the wire form back. The message may itself contain
// colons.
func ParseTaskError(s string) (*TaskError, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[1] == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedTaskError, s)
	}
	return &TaskError{Host: parts[0], TestName: parts[1], Message: parts[2]}, nil
}

func newTaskError(host, test string, err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Host: host, TestName: test, Message: err.Error()}
}

// Future is the pending result of a submitted job.
type Future struct {
	job  Job
	host string
	done chan TaskResult
}

func newFuture(job Job, host string) *Future {
	return &Future{job: job, host: host, done: make(chan TaskResult, 1)}
}

func (f *Future) Job() Job { return f.job }

func (f *Future) resolve(r TaskResult) {
	select {
	case f.done <- r:
	default:
	}
}

// Wait blocks until the job completes or ctx ends. A job abandoned because of
// ctx is reported as failed.
func (f *Future) Wait(ctx context.Context) TaskResult {
	select {
	case r := <-f.done:
		f.done <- r
		return r
	case <-ctx.Done():
		return failedResult(f.job, f.host, ctx.Err().Error())
	}
}

// TaskQueue runs jobs somewhere: in this process or on remote workers.
type TaskQueue interface {
	Submit(ctx context.Context, job Job) *Future
	Close() error
}

// AwaitAll waits for every future. The result order matches futures.
func AwaitAll(ctx context.Context, futures []*Future) []TaskResult {
	results := make([]TaskResult, len(futures))
	for i, f := range futures {
		results[i] = f.Wait(ctx)
	}
	return results
}
