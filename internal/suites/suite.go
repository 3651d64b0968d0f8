package suites

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// Suite is one independent probe. Run collects raw artifacts; Process turns
// them into result keys. Both receive a private copy of the results of all
// earlier stages.
type Suite interface {
	Name() string
	Dependencies() []string
	Run(ctx context.Context, targetURL string, prev models.ResultMap, opts Options) ([]models.RawArtifact, error)
	Process(ctx context.Context, raw []models.RawArtifact, prev models.ResultMap, opts Options) (models.ResultMap, error)
}

type Options struct {
	ScanID    string         `json:"scan_id"`
	StageHost string         `json:"stage_host"`
	UserAgent string         `json:"user_agent"`
	TempDir   string         `json:"temp_dir"`
	Logger    *logrus.Logger `json:"-"`
}

func (o Options) Log() *logrus.Entry {
	logger := o.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("scan_id", o.ScanID)
}

type Descriptor struct {
	Name         string   `json:"name" yaml:"name"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

func Describe(s Suite) Descriptor {
	deps := append([]string(nil), s.Dependencies()...)
	return Descriptor{Name: s.Name(), Dependencies: deps}
}

// Artifact builds a raw artifact for the calling suite. The scan fields are
// filled in by the orchestrator.
func Artifact(test, identifier, mimeType string, data []byte) models.RawArtifact {
	return models.RawArtifact{
		TestName:   test,
		Identifier: identifier,
		MimeType:   mimeType,
		Data:       data,
	}
}

// FindArtifact returns the first artifact with the given identifier.
func FindArtifact(raw []models.RawArtifact, identifier string) (models.RawArtifact, bool) {
	for _, a := range raw {
		if a.Identifier == identifier {
			return a, true
		}
	}
	return models.RawArtifact{}, false
}
