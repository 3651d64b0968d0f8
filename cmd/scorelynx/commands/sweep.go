package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Abort scans that have been running for too long",
		Long: `Mark every scan still running after scanner.abort_ceiling as aborted.
With --watch the sweep repeats every scanner.sweep_interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
	cmd.Flags().BoolP("watch", "w", false, "Keep sweeping periodically")
	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper := a.sweeper()
	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return sweeper.Run(ctx, a.cfg.Scanner.SweepInterval)
	}

	ids, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stale scans.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Aborted %d stale scans:\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
	}
	return nil
}
