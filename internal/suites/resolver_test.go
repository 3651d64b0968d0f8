package suites

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func TestResolveStages(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
		want        Plan
	}{
		{
			name: "chain",
			descriptors: []Descriptor{
				{Name: "a"},
				{Name: "b", Dependencies: []string{"a"}},
				{Name: "c", Dependencies: []string{"b"}},
			},
			want: Plan{{"a"}, {"b"}, {"c"}},
		},
		{
			name: "diamond",
			descriptors: []Descriptor{
				{Name: "d", Dependencies: []string{"b", "c"}},
				{Name: "c", Dependencies: []string{"a"}},
				{Name: "b", Dependencies: []string{"a"}},
				{Name: "a"},
			},
			want: Plan{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "default suites",
			descriptors: []Descriptor{
				{Name: "network"},
				{Name: "browser", Dependencies: []string{"network"}},
				{Name: "testssl_https", Dependencies: []string{"network"}},
				{Name: "testssl_mx", Dependencies: []string{"network"}},
				{Name: "serverleak"},
				{Name: "webappversion"},
			},
			want: Plan{
				{"network", "serverleak", "webappversion"},
				{"browser", "testssl_https", "testssl_mx"},
			},
		},
		{
			name: "empty",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Resolve(tt.descriptors)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !reflect.DeepEqual(plan, tt.want) {
				t.Fatalf("plan = %v, want %v", plan, tt.want)
			}
		})
	}
}

func TestResolveDependenciesInEarlierStage(t *testing.T) {
	descriptors := []Descriptor{
		{Name: "e", Dependencies: []string{"a", "d"}},
		{Name: "d", Dependencies: []string{"c"}},
		{Name: "c"},
		{Name: "b", Dependencies: []string{"c", "a"}},
		{Name: "a"},
	}
	plan, err := Resolve(descriptors)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range descriptors {
		for _, dep := range d.Dependencies {
			if plan.StageOf(dep) >= plan.StageOf(d.Name) {
				t.Errorf("%s (stage %d) does not run before %s (stage %d)",
					dep, plan.StageOf(dep), d.Name, plan.StageOf(d.Name))
			}
		}
	}
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve([]Descriptor{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"a"}},
		{Name: "c"},
	})
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}

	_, err = Resolve([]Descriptor{{Name: "a", Dependencies: []string{"missing"}}})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected unknown dependency error, got %v", err)
	}
}

type stubSuite struct {
	name string
	deps []string
}

func (s stubSuite) Name() string           { return s.name }
func (s stubSuite) Dependencies() []string { return s.deps }

func (s stubSuite) Run(context.Context, string, models.ResultMap, Options) ([]models.RawArtifact, error) {
	return nil, nil
}

func (s stubSuite) Process(context.Context, []models.RawArtifact, models.ResultMap, Options) (models.ResultMap, error) {
	return models.ResultMap{}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(stubSuite{name: "network"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(stubSuite{name: "browser", deps: []string{"network"}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(stubSuite{name: "network"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}

	plan, err := r.Plan()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(plan, Plan{{"network"}, {"browser"}}) {
		t.Fatalf("plan = %v", plan)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"browser", "network"}) {
		t.Fatalf("names = %v", got)
	}
	if _, ok := r.Get("browser"); !ok {
		t.Fatal("browser not found")
	}
}
