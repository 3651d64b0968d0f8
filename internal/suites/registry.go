package suites

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry holds the suites available to a scanner. It is filled once at
// start-up and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	suites map[string]Suite
	plan   Plan
	logger *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		suites: make(map[string]Suite),
		logger: logger,
	}
}

func (r *Registry) Register(s Suite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if name == "" {
		return fmt.Errorf("test suite without name")
	}
	if _, exists := r.suites[name]; exists {
		return fmt.Errorf("test suite already registered: %s", name)
	}
	r.suites[name] = s
	r.plan = nil
	r.logger.Debugf("Registered test suite %s (dependencies: %v)", name, s.Dependencies())
	return nil
}

func (r *Registry) Get(name string) (Suite, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.suites[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.suites))
	for name := range r.suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.suites))
	for _, s := range r.suites {
		out = append(out, Describe(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Plan resolves the stage plan once and caches it.
func (r *Registry) Plan() (Plan, error) {
	r.mu.RLock()
	cached := r.plan
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	plan, err := Resolve(r.Descriptors())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.plan = plan
	r.mu.Unlock()
	r.logger.Infof("Test suite stages: %s", plan)
	return plan, nil
}
