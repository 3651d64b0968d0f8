package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/internal/orchestration"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [url]",
		Short: "Scan one site and print its evaluation",
		Long: `Run every enabled test suite against a site, stage by stage, store the
merged result and print the site's rating per check group.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}
	cmd.Flags().Bool("checks", false, "Print every check outcome")
	cmd.Flags().Bool("json", false, "Print the stored scan as JSON")
	cmd.Flags().Bool("progress", true, "Show stage progress while scanning")
	return cmd
}

// signalContext is cancelled on the first SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			logrus.Info("Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}

	siteURL, err := utils.NormalizeURL(args[0])
	if err != nil {
		return err
	}
	logrus.Infof("Starting scan of %s", siteURL)

	scanID, err := orch.StartScan(ctx, siteURL)
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	logrus.Infof("Scan started with ID: %s", scanID)

	showProgress, _ := cmd.Flags().GetBool("progress")
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()
	monitorScan(ctx, orch, scanID, showProgress, done)

	scan, err := a.store.GetScan(context.WithoutCancel(ctx), scanID)
	if err != nil {
		return fmt.Errorf("failed to load scan %s: %w", scanID, err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(scan)
	}
	withChecks, _ := cmd.Flags().GetBool("checks")
	printScanSummary(cmd.OutOrStdout(), scan, a.evaluator, withChecks)
	if scan.Aborted {
		return fmt.Errorf("scan %s aborted: %s", scan.ID, scan.ErrorMessage)
	}
	return nil
}

// monitorScan redraws a progress bar until done is closed. An interrupt
// cancels the scan and keeps waiting for it to settle.
func monitorScan(ctx context.Context, orch *orchestration.Orchestrator, scanID string, show bool, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	cancelled := false
	for {
		select {
		case <-done:
			if show {
				fmt.Println()
			}
			return
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				if err := orch.CancelScan(scanID); err != nil {
					logrus.Debugf("Cancel scan %s: %v", scanID, err)
				}
			}
		case <-ticker.C:
			if !show {
				continue
			}
			status, err := orch.GetScanStatus(scanID)
			if err != nil {
				continue
			}
			fmt.Print("\r" + progressBar(status.Stage, status.Stages, status.Status))
		}
	}
}

func progressBar(stage, stages int, status string) string {
	const width = 40
	progress := 0.0
	if stages > 0 {
		progress = float64(stage) / float64(stages)
	}
	filled := int(progress * width)
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %s stage %d/%d",
		strings.Repeat("=", filled),
		strings.Repeat(" ", width-filled),
		status, stage, stages)
}

func printScanSummary(w io.Writer, scan *models.Scan, evaluator *evaluation.Evaluator, withChecks bool) {
	fmt.Fprintln(w, "Scan Summary:")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Site:\t%s\n", scan.SiteURL)
	fmt.Fprintf(tw, "Scan ID:\t%s\n", scan.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", colorLevel(scan.Status()))
	fmt.Fprintf(tw, "Duration:\t%s\n", utils.HumanizeDuration(scan.Duration()))
	if scan.ErrorMessage != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", scan.ErrorMessage)
	}
	if scan.Aborted || scan.Result == nil {
		_ = tw.Flush()
		return
	}

	eval, outcomes := evaluator.Evaluate(scan.Result)
	if !eval.Rateable {
		fmt.Fprintf(tw, "Rating:\tunrateable\n")
		_ = tw.Flush()
		return
	}
	fmt.Fprintf(tw, "Rating:\t%s\n", colorLevel(eval.Rating().Level.String()))
	for _, group := range evaluator.GroupOrder() {
		g, ok := eval.Groups[group]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "  %s:\t%s (%d good, %d bad, %d neutral)\n", group, colorLevel(g.Rating().Level.String()), g.OverallGood, g.OverallBad, g.OverallNeutral)
	}
	_ = tw.Flush()

	if !withChecks {
		return
	}
	fmt.Fprintln(w, "\nChecks:")
	for _, o := range outcomes {
		fmt.Fprintf(w, "  [%s] %s/%s: %s\n", colorLevel(o.Result.Rating.Level.String()), o.Group, o.Name, o.Result.Description)
		for _, d := range o.Result.Details {
			fmt.Fprintf(w, "      %s\n", d)
		}
	}
}
