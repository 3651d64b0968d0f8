package suites

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDependencyCycle   = errors.New("test suite dependency cycle")
	ErrUnknownDependency = errors.New("unknown test suite dependency")
)

// Plan is an ordered list of stages. Every suite only depends on suites of
// strictly earlier stages.
type Plan [][]string

func (p Plan) StageOf(name string) int {
	for i, stage := range p {
		for _, s := range stage {
			if s == name {
				return i
			}
		}
	}
	return -1
}

func (p Plan) String() string {
	stages := make([]string, len(p))
	for i, stage := range p {
		stages[i] = "[" + strings.Join(stage, " ") + "]"
	}
	return strings.Join(stages, " -> ")
}

// Resolve layers descriptors into stages. Each pass emits every suite whose
// dependencies are already placed, sorted by name.
func Resolve(descriptors []Descriptor) (Plan, error) {
	deps := make(map[string]map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if _, dup := deps[d.Name]; dup {
			return nil, fmt.Errorf("test suite %s registered twice", d.Name)
		}
		set := make(map[string]bool, len(d.Dependencies))
		for _, dep := range d.Dependencies {
			set[dep] = true
		}
		deps[d.Name] = set
	}
	for name, set := range deps {
		for dep := range set {
			if _, ok := deps[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
		}
	}

	placed := make(map[string]bool, len(deps))
	var plan Plan
	for len(placed) < len(deps) {
		var stage []string
		for name, set := range deps {
			if placed[name] {
				continue
			}
			ready := true
			for dep := range set {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, name)
			}
		}
		if len(stage) == 0 {
			var rest []string
			for name := range deps {
				if !placed[name] {
					rest = append(rest, name)
				}
			}
			sort.Strings(rest)
			return nil, fmt.Errorf("%w among %s", ErrDependencyCycle, strings.Join(rest, ", "))
		}
		sort.Strings(stage)
		for _, name := range stage {
			placed[name] = true
		}
		plan = append(plan, stage)
	}
	return plan, nil
}
