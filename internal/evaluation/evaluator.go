package evaluation

import (
	"fmt"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

type CheckTable map[string][]CheckDefinition

func DefaultChecks() CheckTable {
	return CheckTable{
		"privacy":  privacyChecks(),
		"security": securityChecks(),
		"ssl":      sslChecks(),
		"mx":       mxChecks(),
	}
}

// Validate reports duplicate check names inside a group.
func (t CheckTable) Validate() error {
	for group, checks := range t {
		seen := make(map[string]bool, len(checks))
		for _, c := range checks {
			if c.Name == "" {
				return fmt.Errorf("group %s: check without name", group)
			}
			if seen[c.Name] {
				return fmt.Errorf("group %s: duplicate check %s", group, c.Name)
			}
			seen[c.Name] = true
		}
	}
	return nil
}

type Evaluator struct {
	checks CheckTable
	order  []string
}

func NewEvaluator(checks CheckTable, order []string) *Evaluator {
	if checks == nil {
		checks = DefaultChecks()
	}
	if len(order) == 0 {
		order = DefaultGroupOrder
	}
	return &Evaluator{checks: checks, order: order}
}

func (e *Evaluator) GroupOrder() []string { return e.order }

func (e *Evaluator) Checks() CheckTable { return e.checks }

// Evaluate rates a merged result map. A result that explicitly marks the site
// unreachable is unrateable.
func (e *Evaluator) Evaluate(r models.ResultMap) (SiteEvaluation, []CheckOutcome) {
	if v, ok := r["reachable"]; ok && !truthy(v) {
		return Unrateable(), nil
	}

	groups := make(map[string]GroupEvaluation, len(e.order))
	order := make([]string, 0, len(e.order))
	var outcomes []CheckOutcome
	for _, group := range e.order {
		if _, ok := e.checks[group]; !ok {
			continue
		}
		g, described := e.EvaluateGroup(group, r)
		groups[group] = g
		order = append(order, group)
		outcomes = append(outcomes, described...)
	}
	return NewSiteEvaluation(groups, order), outcomes
}

func (e *Evaluator) EvaluateGroup(group string, r models.ResultMap) (GroupEvaluation, []CheckOutcome) {
	var ratings []Rating
	var outcomes []CheckOutcome
	for _, c := range e.checks[group] {
		res := c.Evaluate(r)
		if res == nil {
			continue
		}
		ratings = append(ratings, res.Rating)
		outcomes = append(outcomes, CheckOutcome{Group: group, Name: c.Name, Title: c.Title, Result: *res})
	}
	return NewGroupEvaluation(ratings), outcomes
}

func (e *Evaluator) EvaluateCheck(group, name string, r models.ResultMap) (*CheckResult, bool) {
	for _, c := range e.checks[group] {
		if c.Name == name {
			return c.Evaluate(r), true
		}
	}
	return nil, false
}
