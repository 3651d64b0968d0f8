package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/scorelynx/internal/reporting"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func NewRankingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Rank all sites by their latest finished scan",
		Long: `Evaluate the latest finished scan of every site, rank the sites from best to
worst and write the ranking to reporting.output_dir (or stdout with --stdout).
Sites with equal evaluations share a position.`,
		Args: cobra.NoArgs,
		RunE: runRanking,
	}
	cmd.Flags().StringP("format", "f", models.ReportFormatText, "Output format (text, json, yaml)")
	cmd.Flags().StringP("title", "t", "", "Ranking title")
	cmd.Flags().Bool("checks", false, "Include every check outcome per site")
	cmd.Flags().Bool("sign", false, "Sign the ranking with reporting.signing_key")
	cmd.Flags().String("templates", "", "Directory with .tmpl files overriding the text layout")
	cmd.Flags().Bool("stdout", false, "Print the ranking instead of writing a file")
	return cmd
}

func runRanking(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	generator, err := a.reportGenerator()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("templates"); dir != "" {
		if err := generator.Templates().LoadDir(dir, nil); err != nil {
			return fmt.Errorf("failed to load templates: %w", err)
		}
	}

	scans, err := a.store.LatestResults(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load scan results: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	title, _ := cmd.Flags().GetString("title")
	withChecks, _ := cmd.Flags().GetBool("checks")
	sign, _ := cmd.Flags().GetBool("sign")
	report, err := generator.GenerateRanking(scans, reporting.RankingOptions{
		Title:      title,
		Format:     format,
		WithChecks: withChecks,
		Sign:       sign,
	})
	if err != nil {
		return err
	}

	if toStdout, _ := cmd.Flags().GetBool("stdout"); toStdout {
		data, err := generator.Render(report, format)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	path, err := generator.ExportReport(report, format)
	if err != nil {
		return err
	}
	logrus.Infof("Ranked %d sites into %s", len(report.Entries), path)
	return nil
}
