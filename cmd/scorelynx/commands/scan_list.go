package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/scorelynx/internal/orchestration"
)

func NewScanListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan-list [url...]",
		Short: "Scan a list of sites, least recently scanned first",
		Long: `Scan every site given as argument or listed in a file (one URL per line,
'#' starts a comment). Sites still in cooldown or blacklisted are skipped.`,
		RunE: runScanList,
	}
	cmd.Flags().StringP("file", "f", "", "File with one site URL per line")
	cmd.Flags().IntP("parallel", "p", 0, "Sites scanned at once (default scanner.max_concurrent_scans)")
	return cmd
}

func runScanList(cmd *cobra.Command, args []string) error {
	urls := append([]string{}, args...)
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open site list: %w", err)
		}
		fromFile, err := readSiteList(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read site list %s: %w", path, err)
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no sites given")
	}

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

	parallel, _ := cmd.Flags().GetInt("parallel")
	if parallel <= 0 {
		parallel = a.cfg.Scanner.MaxConcurrentScans
	}
	report, err := orchestration.NewListScheduler(orch, a.store, parallel, a.logger).Run(ctx, urls)
	if err != nil {
		return err
	}

	printListReport(cmd.OutOrStdout(), report)
	if report.Failed > 0 {
		logrus.Warnf("%d sites could not be scanned", report.Failed)
	}
	return nil
}

// readSiteList returns the non-empty, non-comment lines of r.
func readSiteList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

func printListReport(w io.Writer, report *orchestration.ListReport) {
	fmt.Fprintln(w, "List Summary:")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Scanned:  %d\n", report.Scanned)
	fmt.Fprintf(w, "Aborted:  %d\n", report.Aborted)
	fmt.Fprintf(w, "Rejected: %d\n", report.Rejected)
	fmt.Fprintf(w, "Failed:   %d\n", report.Failed)
	for _, e := range report.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
