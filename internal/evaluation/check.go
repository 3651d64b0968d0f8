package evaluation

import "github.com/bl4ck0w1/scorelynx/pkg/models"

type CheckResult struct {
	Description string   `json:"description" yaml:"description"`
	Rating      Rating   `json:"rating" yaml:"rating"`
	Details     []string `json:"details,omitempty" yaml:"details,omitempty"`
	Severity    string   `json:"severity,omitempty" yaml:"severity,omitempty"`
	Finding     string   `json:"finding,omitempty" yaml:"finding,omitempty"`
}

// ClassifyFunc returns nil when the check has no opinion.
type ClassifyFunc func(k Keys) *CheckResult

type CheckDefinition struct {
	Name         string
	Title        string
	RequiredKeys []string
	Classify     ClassifyFunc
	OnMissing    ClassifyFunc
}

func (c CheckDefinition) Evaluate(result models.ResultMap) *CheckResult {
	k := NewKeys(result)
	if k.HasAll(c.RequiredKeys) {
		if c.Classify == nil {
			return nil
		}
		return c.Classify(k)
	}
	if c.OnMissing == nil {
		return nil
	}
	return c.OnMissing(k)
}

type CheckOutcome struct {
	Group  string      `json:"group" yaml:"group"`
	Name   string      `json:"name" yaml:"name"`
	Title  string      `json:"title,omitempty" yaml:"title,omitempty"`
	Result CheckResult `json:"result" yaml:"result"`
}

func result(r Rating, description string, details ...string) *CheckResult {
	return &CheckResult{Description: description, Rating: r, Details: details}
}

func always(r *CheckResult) ClassifyFunc {
	return func(Keys) *CheckResult {
		out := *r
		return &out
	}
}

func keys(k ...string) []string { return k }
