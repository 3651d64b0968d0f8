package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show scan statistics",
		Long:  `Show how many scans are stored, running, finished and aborted, which tests failed most often and the stage plan of the enabled test suites.`,
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read statistics: %w", err)
	}
	registry, err := a.buildRegistry()
	if err != nil {
		return err
	}
	plan, err := registry.Plan()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printStats(out, stats)
	fmt.Fprintf(out, "\nStage plan: %s\n", plan)
	return nil
}

func printStats(w io.Writer, stats *models.ScanStats) {
	fmt.Fprintln(w, "Scan Statistics:")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Sites:          %d\n", stats.Sites)
	fmt.Fprintf(w, "Total Scans:    %d\n", stats.TotalScans)
	fmt.Fprintf(w, "Running:        %d\n", stats.RunningScans)
	fmt.Fprintf(w, "Finished:       %d\n", stats.FinishedScans)
	fmt.Fprintf(w, "Aborted:        %d\n", stats.AbortedScans)
	fmt.Fprintf(w, "Test Errors:    %d\n", stats.TotalErrors)

	if len(stats.ErrorsByTest) == 0 {
		return
	}
	tests := make([]string, 0, len(stats.ErrorsByTest))
	for t := range stats.ErrorsByTest {
		tests = append(tests, t)
	}
	sort.Slice(tests, func(i, j int) bool {
		if stats.ErrorsByTest[tests[i]] != stats.ErrorsByTest[tests[j]] {
			return stats.ErrorsByTest[tests[i]] > stats.ErrorsByTest[tests[j]]
		}
		return tests[i] < tests[j]
	})
	fmt.Fprintln(w, "\nErrors by test:")
	for _, t := range tests {
		fmt.Fprintf(w, "  %-16s %d\n", t, stats.ErrorsByTest[t])
	}
}
