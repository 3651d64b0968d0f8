package watchdog

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func TestRunReturnsValue(t *testing.T) {
	v, err := Run(context.Background(), time.Second, nil, func(ctx context.Context) (int, error) {
		if FromContext(ctx) == nil {
			t.Error("task context has no tracker")
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Run = %d, %v", v, err)
	}
}

func TestRunTimeoutDoesNotWaitForTask(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Run(context.Background(), 50*time.Millisecond, nil, func(ctx context.Context) (string, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Run waited %s for an unresponsive task", elapsed)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	_, err := Run(context.Background(), time.Second, nil, func(context.Context) (int, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking task")
	}
}

func TestRunKillsTrackedProcesses(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix only")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	exited := make(chan error, 1)
	_, err := Run(context.Background(), 200*time.Millisecond, nil, func(ctx context.Context) (struct{}, error) {
		// A background context keeps exec from killing the child on its own.
		cmd := Command(context.Background(), "sleep", "30")
		cmd.tracker = FromContext(ctx)
		if err := cmd.Start(); err != nil {
			return struct{}{}, err
		}
		exited <- cmd.Wait()
		return struct{}{}, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	select {
	case werr := <-exited:
		if werr == nil {
			t.Fatal("sleep exited cleanly, expected it to be killed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tracked process was not killed")
	}
}

func TestRegisterAfterKillAll(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix only")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	tracker := NewTracker(nil)
	tracker.KillAll()

	cmd := Command(WithTracker(context.Background(), tracker), "sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected killed process")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process started after KillAll kept running")
	}
	if tracker.Len() != 0 {
		t.Fatalf("tracker still holds %d processes", tracker.Len())
	}
}
