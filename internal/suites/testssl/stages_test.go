package testssl

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestStageArgs(t *testing.T) {
	web := &stageRunner{}
	got := web.args("/tmp/out.json", "example.com", 0)
	want := []string{"--jsonfile-pretty", "/tmp/out.json", "--warnings=off", "--openssl-timeout", "10", "--sneaky", "--fast", "--ip", "one", "-p", "-h", "example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("web args = %v", got)
	}

	mx := &stageRunner{mx: true}
	got = mx.args("/tmp/out.json", "mx.example.com:25", 0)
	if strings.Contains(strings.Join(got, " "), " -h") {
		t.Errorf("mx args contain header check: %v", got)
	}
	if tail := got[len(got)-4:]; !reflect.DeepEqual(tail, []string{"-p", "-t", "smtp", "mx.example.com:25"}) {
		t.Errorf("mx args = %v", got)
	}
}

func TestStageRunnerAllStages(t *testing.T) {
	var calls int
	r := &stageRunner{
		check: func(context.Context) bool { return true },
		exec: func(_ context.Context, args []string) ([]byte, error) {
			calls++
			return []byte(`{"scanResult":[{"x":[{"id":"` + args[len(args)-2] + `","severity":"OK","finding":"f"}]}]}`), nil
		},
		logger: quietLogger(),
	}
	docs, log := r.run(context.Background(), "example.com", t.TempDir())
	if calls != len(stageFlags) || len(docs) != len(stageFlags) {
		t.Fatalf("calls = %d, docs = %d", calls, len(docs))
	}
	if len(log) == 0 {
		t.Error("no progress log")
	}
	res, err := LoadResults(docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Incomplete || len(res.Findings) != len(stageFlags) {
		t.Errorf("results = %+v", res)
	}
}

func TestStageRunnerStopsWhenServerBlocks(t *testing.T) {
	var calls int
	r := &stageRunner{
		check: func(context.Context) bool { return calls < 2 },
		exec: func(context.Context, []string) ([]byte, error) {
			calls++
			return []byte(`{"scanResult":[{"x":[{"id":"a","severity":"OK","finding":"f"}]}]}`), nil
		},
		logger: quietLogger(),
	}
	docs, _ := r.run(context.Background(), "example.com", t.TempDir())
	if calls != 2 {
		t.Fatalf("testssl.sh ran %d times, want 2", calls)
	}

	res, err := LoadResults(docs)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Incomplete || res.IncompleteScans == "" || res.MissingScans == "" {
		t.Errorf("results = %+v", res)
	}
}

func TestStageRunnerGivesUpAfterFailures(t *testing.T) {
	var calls int
	r := &stageRunner{
		check: func(context.Context) bool { return true },
		exec: func(context.Context, []string) ([]byte, error) {
			calls++
			return nil, errors.New("exit status 1")
		},
		logger: quietLogger(),
	}
	docs, log := r.run(context.Background(), "example.com", t.TempDir())
	if calls != maxProblems {
		t.Errorf("testssl.sh ran %d times, want %d", calls, maxProblems)
	}
	if len(docs) != len(stageFlags) {
		t.Errorf("docs = %d", len(docs))
	}
	if !strings.Contains(strings.Join(log, "\n"), "too many connectivity problems") {
		t.Errorf("log = %v", log)
	}
}
