package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/scorelynx/internal/api"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scans, evaluations and the ranking over HTTP",
		Long: `Start the read-only HTTP API on api.host:api.port. Unless --no-sweep is given,
stale scans are aborted every scanner.sweep_interval while the server runs.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().Bool("no-sweep", false, "Do not abort stale scans in the background")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	generator, err := a.reportGenerator()
	if err != nil {
		return err
	}
	var metrics http.Handler
	if a.cfg.API.Metrics {
		metrics = a.metrics.Handler()
	}
	srv := api.NewServer(a.cfg.API, a.store, generator, a.evaluator, metrics, a.logger).HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.Infof("API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if noSweep, _ := cmd.Flags().GetBool("no-sweep"); !noSweep && a.cfg.Scanner.SweepInterval > 0 {
		g.Go(func() error {
			return a.sweeper().Run(gctx, a.cfg.Scanner.SweepInterval)
		})
	}
	return g.Wait()
}
