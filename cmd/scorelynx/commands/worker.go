package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/scorelynx/internal/notify"
	"github.com/bl4ck0w1/scorelynx/internal/orchestration"
)

func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run scan tasks queued in Redis",
		Long: `Pull test tasks from the Redis queue (redis.queue_key) and execute them with
the locally enabled test suites. Run one worker per scan host; the scheduler
must use scanner.queue: redis.`,
		Args: cobra.NoArgs,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.worker(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}
	w.Start(ctx)
	<-ctx.Done()

	logrus.Info("Waiting for running tasks to finish...")
	w.Stop()
	w.Wait()
	return nil
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print scan notifications as they are published",
		Long:  `Subscribe to redis.notify_channel and print one line per finished or aborted scan.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			client, err := orchestration.DialRedis(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			return notify.Subscribe(ctx, client, cfg.Redis.NotifyChannel, logrus.StandardLogger(), func(m notify.Message) {
				rating := m.Rating
				if rating == "" {
					rating = "-"
				}
				fmt.Fprintf(out, "%s  %-9s %-11s %s  %s\n", m.Start.Format("2006-01-02 15:04:05"), colorLevel(m.Status), colorLevel(rating), m.SiteURL, m.ErrorMessage)
			})
		},
	}
}
