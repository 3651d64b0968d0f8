package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrTimeout = errors.New("task timed out")

// Tracker remembers the child processes started on behalf of one task so they
// can be killed when the task is abandoned.
type Tracker struct {
	mu     sync.Mutex
	procs  map[int]*os.Process
	killed bool
	logger *logrus.Logger
}

func NewTracker(logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		procs:  make(map[int]*os.Process),
		logger: logger,
	}
}

// Register tracks p until the returned func is called. A process registered
// after KillAll is killed immediately.
func (t *Tracker) Register(p *os.Process) func() {
	t.mu.Lock()
	if t.killed {
		t.mu.Unlock()
		t.kill(p)
		return func() {}
	}
	t.procs[p.Pid] = p
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.procs, p.Pid)
		t.mu.Unlock()
	}
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// KillAll kills every tracked process group and returns how many were
// signalled.
func (t *Tracker) KillAll() int {
	t.mu.Lock()
	t.killed = true
	procs := make([]*os.Process, 0, len(t.procs))
	for pid, p := range t.procs {
		procs = append(procs, p)
		delete(t.procs, pid)
	}
	t.mu.Unlock()

	for _, p := range procs {
		t.kill(p)
	}
	return len(procs)
}

func (t *Tracker) kill(p *os.Process) {
	if err := killProcess(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.logger.Warnf("Failed to kill process %d: %v", p.Pid, err)
		return
	}
	t.logger.Debugf("Killed process %d", p.Pid)
}

type trackerKey struct{}

func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// Run calls fn with a tracked context bounded by timeout. When the deadline
// passes first, the tracked processes are killed in the background and Run
// returns ErrTimeout without waiting for fn.
func Run[T any](ctx context.Context, timeout time.Duration, logger *logrus.Logger, fn func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = logrus.New()
	}
	tracker := NewTracker(logger)

	taskCtx, cancel := context.WithCancel(WithTracker(ctx, tracker))
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{zero, fmt.Errorf("task panicked: %v", r)}
			}
		}()
		v, err := fn(taskCtx)
		done <- outcome{v, err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var zero T
	select {
	case out := <-done:
		return out.value, out.err
	case <-timer:
		cancel()
		go func() {
			if n := tracker.KillAll(); n > 0 {
				logger.Warnf("Killed %d child processes of a timed out task", n)
			}
		}()
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		go tracker.KillAll()
		return zero, ctx.Err()
	}
}
