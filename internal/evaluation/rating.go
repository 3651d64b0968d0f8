package evaluation

import (
	"fmt"
	"strings"
)

type Level int

const (
	LevelCritical Level = iota
	LevelBad
	LevelWarning
	LevelNeutral
	LevelGood
	LevelDoublePlusGood
)

var levelNames = [...]string{"critical", "bad", "warning", "neutral", "good", "doubleplusgood"}

func (l Level) String() string {
	if l < LevelCritical || l > LevelDoublePlusGood {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return LevelNeutral, fmt.Errorf("unknown rating level %q", s)
}

// Rating is ordered by Level alone. The flags only change how a group
// aggregates it.
type Rating struct {
	Level             Level `json:"level" yaml:"level"`
	InfluencesRanking bool  `json:"influences_ranking" yaml:"influences_ranking"`
	DevaluatesGroup   bool  `json:"devaluates_group" yaml:"devaluates_group"`
}

func NewRating(level Level) Rating {
	return Rating{Level: level, InfluencesRanking: true}
}

func Critical() Rating       { return NewRating(LevelCritical) }
func Bad() Rating            { return NewRating(LevelBad) }
func Warning() Rating        { return NewRating(LevelWarning) }
func Neutral() Rating        { return NewRating(LevelNeutral) }
func Good() Rating           { return NewRating(LevelGood) }
func DoublePlusGood() Rating { return NewRating(LevelDoublePlusGood) }

func (r Rating) Devaluating() Rating {
	r.DevaluatesGroup = true
	return r
}

func (r Rating) Informational() Rating {
	r.InfluencesRanking = false
	return r
}

func (r Rating) IsGood() bool    { return r.Level >= LevelGood }
func (r Rating) IsBad() bool     { return r.Level <= LevelBad }
func (r Rating) IsNeutral() bool { return r.Level == LevelWarning || r.Level == LevelNeutral }

func (r Rating) Compare(other Rating) int {
	return compareLevel(r.Level, other.Level)
}

func (r Rating) String() string {
	var flags []string
	if !r.InfluencesRanking {
		flags = append(flags, "informational")
	}
	if r.DevaluatesGroup {
		flags = append(flags, "devaluating")
	}
	if len(flags) == 0 {
		return r.Level.String()
	}
	return fmt.Sprintf("%s (%s)", r.Level, strings.Join(flags, ", "))
}

func compareLevel(a, b Level) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func minLevel(a, b Level) Level {
	if a < b {
		return a
	}
	return b
}
