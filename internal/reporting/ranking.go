package reporting

import (
	"sort"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// RankedSite is one evaluated scan with its position. Sites with equal
// evaluations share a position and the next distinct site follows directly.
type RankedSite struct {
	Position   int
	Scan       *models.Scan
	Evaluation evaluation.SiteEvaluation
	Outcomes   []evaluation.CheckOutcome
}

type Ranker struct {
	evaluator *evaluation.Evaluator
}

func NewRanker(evaluator *evaluation.Evaluator) *Ranker {
	if evaluator == nil {
		evaluator = evaluation.NewEvaluator(nil, nil)
	}
	return &Ranker{evaluator: evaluator}
}

func (r *Ranker) Evaluator() *evaluation.Evaluator { return r.evaluator }

// Rank evaluates the scans and orders them best first. Ties keep site URL
// order so repeated runs produce the same listing.
func (r *Ranker) Rank(scans []*models.Scan) []RankedSite {
	ranked := make([]RankedSite, 0, len(scans))
	for _, scan := range scans {
		if scan == nil {
			continue
		}
		eval, outcomes := r.evaluator.Evaluate(scan.Result)
		ranked = append(ranked, RankedSite{Scan: scan, Evaluation: eval, Outcomes: outcomes})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := evaluation.Compare(ranked[i].Evaluation, ranked[j].Evaluation); c != 0 {
			return c > 0
		}
		return ranked[i].Scan.SiteURL < ranked[j].Scan.SiteURL
	})

	position := 0
	for i := range ranked {
		if i == 0 || evaluation.Compare(ranked[i-1].Evaluation, ranked[i].Evaluation) != 0 {
			position++
		}
		ranked[i].Position = position
	}
	return ranked
}

// Entry converts a ranked site into its report form. Check details are only
// included when withChecks is set.
func (rs RankedSite) Entry(withChecks bool) models.RankingEntry {
	entry := models.RankingEntry{
		Position:   rs.Position,
		SiteURL:    rs.Scan.SiteURL,
		ScanID:     rs.Scan.ID,
		ScannedAt:  rs.Scan.End,
		Rating:     rs.Evaluation.Rating().Level.String(),
		Unrateable: !rs.Evaluation.Rateable,
	}
	if !rs.Evaluation.Rateable {
		entry.Rating = "unrateable"
		return entry
	}
	entry.Groups = make(map[string]models.GroupSummary, len(rs.Evaluation.Groups))
	for name, g := range rs.Evaluation.Groups {
		entry.Groups[name] = models.GroupSummary{
			Rating:    g.Rating().Level.String(),
			GoodRatio: g.GoodRatio(),
			Good:      g.Good,
			Bad:       g.Bad,
			Neutral:   g.Neutral,
			Devalued:  g.Devalued(),
		}
	}
	if withChecks {
		for _, o := range rs.Outcomes {
			entry.Checks = append(entry.Checks, models.CheckSummary{
				Group:       o.Group,
				Name:        o.Name,
				Rating:      o.Result.Rating.Level.String(),
				Description: o.Result.Description,
			})
		}
	}
	return entry
}

// RatingCounts counts the overall ratings of the ranked sites.
func RatingCounts(ranked []RankedSite) map[string]int {
	counts := make(map[string]int)
	for _, rs := range ranked {
		if !rs.Evaluation.Rateable {
			counts["unrateable"]++
			continue
		}
		counts[rs.Evaluation.Rating().Level.String()]++
	}
	return counts
}
