package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	ReportFormatText = "text"
	ReportFormatJSON = "json"
	ReportFormatYAML = "yaml"
)

var (
	allowedFormats    = map[string]bool{ReportFormatText: true, ReportFormatJSON: true, ReportFormatYAML: true}
	filenameSanitizer = regexp.MustCompile(`[^\w\-.]+`)
)

type GroupSummary struct {
	Rating    string  `json:"rating" yaml:"rating"`
	GoodRatio float64 `json:"good_ratio" yaml:"good_ratio"`
	Good      int     `json:"good" yaml:"good"`
	Bad       int     `json:"bad" yaml:"bad"`
	Neutral   int     `json:"neutral" yaml:"neutral"`
	Devalued  bool    `json:"devalued" yaml:"devalued"`
}

type CheckSummary struct {
	Group       string `json:"group" yaml:"group"`
	Name        string `json:"name" yaml:"name"`
	Rating      string `json:"rating" yaml:"rating"`
	Description string `json:"description" yaml:"description"`
}

type RankingEntry struct {
	Position   int                     `json:"position" yaml:"position"`
	SiteURL    string                  `json:"site_url" yaml:"site_url"`
	ScanID     string                  `json:"scan_id,omitempty" yaml:"scan_id,omitempty"`
	ScannedAt  *time.Time              `json:"scanned_at,omitempty" yaml:"scanned_at,omitempty"`
	Rating     string                  `json:"rating" yaml:"rating"`
	Unrateable bool                    `json:"unrateable" yaml:"unrateable"`
	Groups     map[string]GroupSummary `json:"groups,omitempty" yaml:"groups,omitempty"`
	Checks     []CheckSummary          `json:"checks,omitempty" yaml:"checks,omitempty"`
}

type RankingReport struct {
	Title       string         `json:"title" yaml:"title"`
	Format      string         `json:"format" yaml:"format"`
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	GroupOrder  []string       `json:"group_order" yaml:"group_order"`
	Ratings     map[string]int `json:"ratings" yaml:"ratings"`
	Entries     []RankingEntry `json:"entries" yaml:"entries"`
	Signature   string         `json:"signature,omitempty" yaml:"signature,omitempty"`
}

func (r *RankingReport) Validate() error {
	var problems []string

	if r.Title == "" {
		problems = append(problems, "report title is required")
	}
	if !allowedFormats[r.Format] {
		problems = append(problems, fmt.Sprintf("invalid report format: %s", r.Format))
	}
	last := 0
	for i, e := range r.Entries {
		if e.SiteURL == "" {
			problems = append(problems, fmt.Sprintf("entry %d has empty site_url", i))
		}
		if e.Position < last {
			problems = append(problems, fmt.Sprintf("entry %d position %d is lower than previous %d", i, e.Position, last))
		}
		last = e.Position
	}

	if len(problems) > 0 {
		return fmt.Errorf("report validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func (r *RankingReport) Entry(siteURL string) *RankingEntry {
	for i := range r.Entries {
		if r.Entries[i].SiteURL == siteURL {
			return &r.Entries[i]
		}
	}
	return nil
}

func (r *RankingReport) GenerateFileName() string {
	title := r.Title
	if title == "" {
		title = "ranking"
	}
	title = strings.ToLower(filenameSanitizer.ReplaceAllString(title, "_"))

	ext := r.Format
	switch ext {
	case "", ReportFormatText:
		ext = "txt"
	}

	ts := r.GeneratedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("scorelynx_%s_%s.%s", title, ts.Format("20060102_150405"), ext)
}
