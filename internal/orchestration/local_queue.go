package orchestration

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// LocalQueue executes jobs in this process with bounded concurrency.
type LocalQueue struct {
	executor *Executor
	group    *errgroup.Group
	pending  sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

func NewLocalQueue(executor *Executor, concurrency int) *LocalQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	return &LocalQueue{executor: executor, group: g}
}

func (q *LocalQueue) Submit(ctx context.Context, job Job) *Future {
	host := q.executor.Host()
	f := newFuture(job, host)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.resolve(failedResult(job, host, "queue closed"))
		return f
	}
	q.pending.Add(1)
	q.mu.Unlock()

	// Go blocks while the pool is full, so the wait happens off the caller.
	go q.group.Go(func() error {
		defer q.pending.Done()
		if err := ctx.Err(); err != nil {
			f.resolve(failedResult(job, host, err.Error()))
			return nil
		}
		f.resolve(q.executor.Execute(ctx, job))
		return nil
	})
	return f
}

func (q *LocalQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.pending.Wait()
	return q.group.Wait()
}

func failedResult(job Job, host, message string) TaskResult {
	return TaskResult{
		JobID:    job.ID,
		ScanID:   job.ScanID,
		TestName: job.TestName,
		Host:     host,
		Err:      &TaskError{Host: host, TestName: job.TestName, Message: message},
	}
}
