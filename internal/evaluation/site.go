package evaluation

import (
	"fmt"
	"slices"
	"strings"
)

var DefaultGroupOrder = []string{"ssl", "security", "privacy", "mx"}

type SiteEvaluation struct {
	Groups     map[string]GroupEvaluation `json:"groups" yaml:"groups"`
	GroupOrder []string                   `json:"group_order" yaml:"group_order"`
	Rateable   bool                       `json:"rateable" yaml:"rateable"`
}

func NewSiteEvaluation(groups map[string]GroupEvaluation, order []string) SiteEvaluation {
	return SiteEvaluation{Groups: groups, GroupOrder: order, Rateable: true}
}

func Unrateable() SiteEvaluation {
	return SiteEvaluation{Groups: map[string]GroupEvaluation{}, GroupOrder: []string{}}
}

// Rating is the worst group rating, or neutral when nothing was evaluated.
func (s SiteEvaluation) Rating() Rating {
	if len(s.Groups) == 0 {
		return Neutral()
	}
	first := true
	var worst Level
	for _, g := range s.Groups {
		lvl := g.Rating().Level
		if first {
			worst, first = lvl, false
			continue
		}
		worst = minLevel(worst, lvl)
	}
	return NewRating(worst)
}

// Compare orders two evaluations: -1 when a ranks below b, 1 when above, 0 when
// they are equal. It compares the sort keys of both sides.
func Compare(a, b SiteEvaluation) int { return a.SortKey().Compare(b.SortKey()) }

func (s SiteEvaluation) Compare(other SiteEvaluation) int { return Compare(s, other) }

// missingLevel stands in for a group the evaluation lacks. It ranks below
// every real level, as does its good ratio of -1.
const missingLevel Level = -1

// SortKey is the tuple evaluations are ranked by: rateability, the group
// order, the group levels in that order and then the good ratios. Keys with
// different group orders are ordered by the group names so that the ranking
// stays a total order.
type SortKey struct {
	Rateable   bool
	Order      []string
	Levels     []Level
	GoodRatios []float64
}

func (s SiteEvaluation) SortKey() SortKey {
	key := SortKey{Rateable: s.Rateable}
	if !s.Rateable {
		return key
	}
	key.Order = append([]string(nil), s.GroupOrder...)
	for _, group := range s.GroupOrder {
		g, ok := s.Groups[group]
		if !ok {
			key.Levels = append(key.Levels, missingLevel)
			key.GoodRatios = append(key.GoodRatios, -1)
			continue
		}
		key.Levels = append(key.Levels, g.Rating().Level)
		key.GoodRatios = append(key.GoodRatios, g.GoodRatio())
	}
	return key
}

func (k SortKey) Compare(other SortKey) int {
	switch {
	case !k.Rateable && !other.Rateable:
		return 0
	case !k.Rateable:
		return -1
	case !other.Rateable:
		return 1
	}

	if c := slices.Compare(k.Order, other.Order); c != 0 {
		return c
	}
	for i := range k.Levels {
		if c := compareLevel(k.Levels[i], other.Levels[i]); c != 0 {
			return c
		}
	}
	for i := range k.GoodRatios {
		switch {
		case k.GoodRatios[i] < other.GoodRatios[i]:
			return -1
		case k.GoodRatios[i] > other.GoodRatios[i]:
			return 1
		}
	}
	return 0
}

func (s SiteEvaluation) String() string {
	if !s.Rateable {
		return "unrateable"
	}
	parts := make([]string, 0, len(s.GroupOrder))
	for _, group := range s.GroupOrder {
		if g, ok := s.Groups[group]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", group, g))
		}
	}
	return strings.Join(parts, "; ")
}
