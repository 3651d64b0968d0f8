package watchdog

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Cmd is an exec.Cmd that runs in its own process group and registers itself
// with the tracker of its context.
type Cmd struct {
	*exec.Cmd
	tracker    *Tracker
	unregister func()
}

func Command(ctx context.Context, name string, args ...string) *Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcess(cmd.Process) }
	cmd.WaitDelay = 5 * time.Second
	return &Cmd{Cmd: cmd, tracker: FromContext(ctx)}
}

func (c *Cmd) Start() error {
	if err := c.Cmd.Start(); err != nil {
		return err
	}
	if c.tracker != nil {
		c.unregister = c.tracker.Register(c.Process)
	}
	return nil
}

func (c *Cmd) Wait() error {
	err := c.Cmd.Wait()
	if c.unregister != nil {
		c.unregister()
		c.unregister = nil
	}
	return err
}

func (c *Cmd) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}

func (c *Cmd) Output() ([]byte, error) {
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	if c.Stderr == nil {
		c.Stderr = &stderr
	}
	err := c.Run()
	if ee, ok := err.(*exec.ExitError); ok && stderr.Len() > 0 {
		ee.Stderr = stderr.Bytes()
	}
	return stdout.Bytes(), err
}

func (c *Cmd) CombinedOutput() ([]byte, error) {
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	err := c.Run()
	return out.Bytes(), err
}
