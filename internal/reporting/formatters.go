package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

type Formatter interface {
	Format(report *models.RankingReport) ([]byte, error)
	FileExtension() string
}

type JSONFormatter struct{}

func (JSONFormatter) Format(report *models.RankingReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func (JSONFormatter) FileExtension() string { return "json" }

type YAMLFormatter struct{}

func (YAMLFormatter) Format(report *models.RankingReport) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLFormatter) FileExtension() string { return "yaml" }

// TextFormatter renders a report through the named template.
type TextFormatter struct {
	Templates *TemplateManager
	Name      string
}

func (f TextFormatter) Format(report *models.RankingReport) ([]byte, error) {
	name := f.Name
	if name == "" {
		name = rankingTemplate
	}
	t, ok := f.Templates.Get(name)
	if !ok {
		return nil, fmt.Errorf("template %q not registered", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return nil, fmt.Errorf("render %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (TextFormatter) FileExtension() string { return "txt" }

func orderedGroups(order []string, groups map[string]models.GroupSummary) []namedGroup {
	out := make([]namedGroup, 0, len(groups))
	for _, name := range order {
		if g, ok := groups[name]; ok {
			out = append(out, namedGroup{Name: name, Rating: g.Rating, GoodRatio: g.GoodRatio})
		}
	}
	return out
}
