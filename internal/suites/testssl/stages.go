package testssl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/watchdog"
)

const (
	stageTries  = 2
	maxProblems = 4
)

var baseArgs = []string{"--warnings=off", "--openssl-timeout", "10", "--sneaky", "--fast", "--ip", "one"}

// stageFlags splits a full testssl.sh run into stages that each finish
// within the stage timeout.
var stageFlags = [][]string{
	{"-p", "-h"},
	{"-s"},
	{"-f"},
	{"-S"},
	{"-P"},
	{"-U"},
}

// stageRunner drives testssl.sh stage by stage and checks after each stage
// that the server still accepts handshakes, since tarpitting or fail2ban
// make later stages report nonsense.
type stageRunner struct {
	backoff time.Duration
	mx      bool
	check   func(ctx context.Context) bool
	exec    func(ctx context.Context, args []string) ([]byte, error)
	logger  *logrus.Logger
}

type stageOutput struct {
	docs [][]byte
	log  []string
}

func (r *stageRunner) logf(out *stageOutput, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	out.log = append(out.log, msg)
	r.logger.Debug(msg)
}

func (r *stageRunner) args(jsonFile, target string, stage int) []string {
	args := append([]string{"--jsonfile-pretty", jsonFile}, baseArgs...)
	for _, flag := range stageFlags[stage] {
		if r.mx && flag == "-h" {
			continue
		}
		args = append(args, flag)
	}
	if r.mx {
		args = append(args, "-t", "smtp")
	}
	return append(args, target)
}

// run executes all stages against target (host or host:port) and returns
// the stage documents together with the progress log.
func (r *stageRunner) run(ctx context.Context, target, workDir string) ([][]byte, []string) {
	out := &stageOutput{}
	r.logf(out, "running testssl for %s", target)
	if r.mx {
		r.logf(out, "Mode: mx (STARTTLS)")
	}

	emptyStage, _ := json.Marshal(map[string]interface{}{"scanResult": []interface{}{}})
	failures, impossible := 0, 0
	keepRunning := true

	for stage := range stageFlags {
		n := stage + 1
		if !keepRunning {
			r.logf(out, "Skipping stage %d because we cannot establish TLS connections any more.", n)
			out.docs = append(out.docs, emptyStage)
			continue
		}
		if failures+impossible >= maxProblems {
			r.logf(out, "Skipping stage %d because of too many connectivity problems.", n)
			out.docs = append(out.docs, emptyStage)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		r.logf(out, "Running stage %d", n)
		for try := 0; try < stageTries; try++ {
			r.logf(out, "Try %d ...", try)
			jsonFile := filepath.Join(workDir, "stage"+strconv.Itoa(n)+"-"+strconv.Itoa(try)+".json")
			data, err := r.exec(ctx, r.args(jsonFile, target, stage))
			if err != nil {
				r.logf(out, "testssl.sh failed: %v", err)
				failures++
			}

			if r.check(ctx) {
				r.logf(out, "server_ready = True => next stage.")
				out.docs = append(out.docs, data)
				if failures+impossible > 0 && n < len(stageFlags) {
					r.logf(out, "Connectivity problems! Sleeping %s before next stage.", r.backoff)
					sleep(ctx, r.backoff)
				}
				break
			}

			r.logf(out, "server_ready = False => sleeping %s", r.backoff)
			impossible++
			sleep(ctx, r.backoff)
			incomplete, _ := json.Marshal(map[string]string{"incomplete_scan": "stage" + strconv.Itoa(n)})
			if !r.check(ctx) {
				r.logf(out, "server_ready is still False. It makes no sense to continue.")
				keepRunning = false
				out.docs = append(out.docs, data, incomplete)
				break
			}
			r.logf(out, "server_ready is now True. We can continue.")
			out.docs = append(out.docs, data, incomplete)
		}
	}

	return out.docs, out.log
}

// execTestSSL runs one stage under the watchdog tracker of ctx and returns
// the JSON file it wrote.
func execTestSSL(binary string, timeout time.Duration) func(ctx context.Context, args []string) ([]byte, error) {
	return func(ctx context.Context, args []string) ([]byte, error) {
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := watchdog.Command(stageCtx, binary, args...)
		output, err := cmd.CombinedOutput()
		jsonFile := args[1]
		data, readErr := os.ReadFile(jsonFile)
		if err != nil {
			if stageCtx.Err() != nil {
				err = fmt.Errorf("stage timed out after %s", timeout)
			}
			return data, fmt.Errorf("%w: %s", err, tail(output, 512))
		}
		if readErr != nil {
			return nil, readErr
		}
		return data, nil
	}
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
