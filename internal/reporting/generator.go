package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

type ReportGenerator struct {
	formatters  map[string]Formatter
	logger      *logrus.Logger
	mu          sync.RWMutex
	config      models.ReportingConfig
	templateMgr *TemplateManager
	ranker      *Ranker
	signer      *Signer
}

func NewReportGenerator(config models.ReportingConfig, ranker *Ranker, logger *logrus.Logger) (*ReportGenerator, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if ranker == nil {
		ranker = NewRanker(nil)
	}
	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	rg := &ReportGenerator{
		formatters:  make(map[string]Formatter),
		logger:      logger,
		config:      config,
		templateMgr: NewTemplateManager(),
		ranker:      ranker,
	}
	if config.SigningKey != "" {
		signer, err := NewSigner(config.SigningKey, config.Issuer)
		if err != nil {
			return nil, err
		}
		rg.signer = signer
	}

	rg.RegisterFormatter(models.ReportFormatText, TextFormatter{Templates: rg.templateMgr})
	rg.RegisterFormatter(models.ReportFormatJSON, JSONFormatter{})
	rg.RegisterFormatter(models.ReportFormatYAML, YAMLFormatter{})
	return rg, nil
}

func (rg *ReportGenerator) RegisterFormatter(name string, formatter Formatter) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.formatters[name] = formatter
}

func (rg *ReportGenerator) Templates() *TemplateManager { return rg.templateMgr }

func (rg *ReportGenerator) Signer() *Signer { return rg.signer }

func (rg *ReportGenerator) SupportedFormats() []string {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	names := make([]string, 0, len(rg.formatters))
	for k := range rg.formatters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type RankingOptions struct {
	Title      string
	Format     string
	WithChecks bool
	Sign       bool
}

// GenerateRanking ranks the scans and builds the report. Signing fails when
// no signing key is configured.
func (rg *ReportGenerator) GenerateRanking(scans []*models.Scan, opts RankingOptions) (*models.RankingReport, error) {
	startTime := time.Now()
	if opts.Title == "" {
		opts.Title = "Ranking"
	}
	if opts.Format == "" {
		opts.Format = models.ReportFormatText
	}

	ranked := rg.ranker.Rank(scans)
	report := &models.RankingReport{
		Title:       opts.Title,
		Format:      opts.Format,
		GeneratedAt: startTime.UTC(),
		GroupOrder:  append([]string(nil), rg.ranker.Evaluator().GroupOrder()...),
		Ratings:     RatingCounts(ranked),
		Entries:     make([]models.RankingEntry, 0, len(ranked)),
	}
	for _, rs := range ranked {
		report.Entries = append(report.Entries, rs.Entry(opts.WithChecks))
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}

	if opts.Sign {
		if rg.signer == nil {
			return nil, ErrNoSigningKey
		}
		if _, err := rg.signer.Sign(report); err != nil {
			return nil, err
		}
	}

	rg.logger.Infof("Ranking of %d sites generated in %v", len(report.Entries), time.Since(startTime))
	return report, nil
}

func (rg *ReportGenerator) Render(report *models.RankingReport, format string) ([]byte, error) {
	rg.mu.RLock()
	formatter, exists := rg.formatters[format]
	rg.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
	data, err := formatter.Format(report)
	if err != nil {
		return nil, fmt.Errorf("failed to format report: %w", err)
	}
	return data, nil
}

// ExportReport writes the report to the output directory and returns the
// written path.
func (rg *ReportGenerator) ExportReport(report *models.RankingReport, format string) (string, error) {
	if format == "" {
		format = report.Format
	}
	data, err := rg.Render(report, format)
	if err != nil {
		return "", err
	}

	rg.mu.RLock()
	outputDir := rg.config.OutputDir
	rg.mu.RUnlock()
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to ensure output dir: %w", err)
	}

	named := *report
	named.Format = format
	outPath := filepath.Join(outputDir, named.GenerateFileName())
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	rg.logger.Infof("Report exported to %s", outPath)
	return outPath, nil
}

func (rg *ReportGenerator) GetReportStats() (map[string]interface{}, error) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	files, err := os.ReadDir(rg.config.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	formatCounts := make(map[string]int)
	for _, f := range files {
		if ext := filepath.Ext(f.Name()); ext != "" {
			formatCounts[ext[1:]]++
		}
	}
	return map[string]interface{}{
		"total_reports": len(files),
		"output_dir":    rg.config.OutputDir,
		"formats":       formatCounts,
	}, nil
}
