package evaluation

import "fmt"

// GroupEvaluation folds the ratings of one check group. Good, Bad and Neutral
// only count ratings that influence ranking; the Overall counters include
// informational ratings for display.
type GroupEvaluation struct {
	Good           int `json:"good" yaml:"good"`
	Bad            int `json:"bad" yaml:"bad"`
	Neutral        int `json:"neutral" yaml:"neutral"`
	OverallGood    int `json:"overall_good" yaml:"overall_good"`
	OverallBad     int `json:"overall_bad" yaml:"overall_bad"`
	OverallNeutral int `json:"overall_neutral" yaml:"overall_neutral"`
	Devaluating    int `json:"devaluating" yaml:"devaluating"`
}

func NewGroupEvaluation(ratings []Rating) GroupEvaluation {
	var g GroupEvaluation
	for _, r := range ratings {
		if r.DevaluatesGroup {
			g.Devaluating++
		}
		switch {
		case r.IsGood():
			g.OverallGood++
			if r.InfluencesRanking {
				g.Good++
			}
		case r.IsBad():
			g.OverallBad++
			if r.InfluencesRanking {
				g.Bad++
			}
		default:
			g.OverallNeutral++
			if r.InfluencesRanking {
				g.Neutral++
			}
		}
	}
	return g
}

func (g GroupEvaluation) Devalued() bool { return g.Devaluating > 0 }

func (g GroupEvaluation) Rating() Rating {
	switch {
	case g.Devalued():
		return Warning()
	case g.Bad == 0:
		return Good()
	case g.Good == 0:
		return Bad()
	default:
		return Warning()
	}
}

func (g GroupEvaluation) GoodRatio() float64 {
	rated := g.Good + g.Bad
	if rated == 0 {
		return 1
	}
	return float64(g.Good) / float64(rated)
}

func (g GroupEvaluation) Total() int { return g.Good + g.Bad + g.Neutral }

func (g GroupEvaluation) OverallTotal() int {
	return g.OverallGood + g.OverallBad + g.OverallNeutral
}

func (g GroupEvaluation) String() string {
	return fmt.Sprintf("%s: %d good, %d neutral, %d bad", g.Rating().Level, g.Good, g.Neutral, g.Bad)
}
