// Package webappversion detects the web application generating a site from
// its generator meta tag and compares its version with the newest release.
package webappversion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

const (
	Name = "webappversion"

	pageID     = "page"
	responseID = "response"

	maxPageSize = 4 << 20
)

var versionPattern = regexp.MustCompile(`(?:^|\s)v?([0-9]+(?:\.[0-9]+){0,3})\b`)

type response struct {
	URL        string              `json:"url"`
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
}

type Suite struct {
	cfg    models.WebAppSuiteConfig
	latest map[string]*semver.Version
	logger *logrus.Logger
}

// New validates the configured latest versions up front so a typo fails at
// start-up instead of in every scan.
func New(cfg models.WebAppSuiteConfig, logger *logrus.Logger) (*Suite, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	latest := make(map[string]*semver.Version, len(cfg.LatestVersions))
	for name, v := range cfg.LatestVersions {
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, fmt.Errorf("invalid latest version %q for %s: %w", v, name, err)
		}
		latest[strings.ToLower(name)] = parsed
	}
	return &Suite{cfg: cfg, latest: latest, logger: logger}, nil
}

func (s *Suite) Name() string           { return Name }
func (s *Suite) Dependencies() []string { return nil }

func (s *Suite) Run(ctx context.Context, targetURL string, prev models.ResultMap, opts suites.Options) ([]models.RawArtifact, error) {
	client := utils.NewHTTPClient(s.cfg.Timeout, opts.UserAgent, true)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", targetURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", targetURL, err)
	}
	meta, err := json.Marshal(response{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Headers: resp.Header})
	if err != nil {
		return nil, err
	}
	return []models.RawArtifact{
		suites.Artifact(Name, responseID, "application/json", meta),
		suites.Artifact(Name, pageID, "text/html", body),
	}, nil
}

// Generator returns the generator announced by the page, preferring the meta
// tag over the X-Generator header.
func Generator(page []byte, headers http.Header) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err == nil {
		var found string
		doc.Find("meta").EachWithBreak(func(_ int, m *goquery.Selection) bool {
			name, _ := m.Attr("name")
			if !strings.EqualFold(strings.TrimSpace(name), "generator") {
				return true
			}
			content, _ := m.Attr("content")
			found = strings.TrimSpace(content)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return strings.TrimSpace(headers.Get("X-Generator"))
}

// SplitGenerator separates "WordPress 6.5.2" into product and version. The
// version is empty when the generator does not announce one.
func SplitGenerator(generator string) (string, string) {
	loc := versionPattern.FindStringSubmatchIndex(generator)
	if loc == nil {
		name, _, _ := strings.Cut(generator, " - ")
		return strings.TrimSpace(name), ""
	}
	name := strings.TrimSpace(generator[:loc[0]])
	version := generator[loc[2]:loc[3]]
	if name == "" {
		name = generator
		version = ""
	}
	return name, version
}

func (s *Suite) latestFor(product string) (*semver.Version, bool) {
	key := strings.ToLower(product)
	if v, ok := s.latest[key]; ok {
		return v, true
	}
	first, _, _ := strings.Cut(key, " ")
	v, ok := s.latest[first]
	return v, ok
}

func (s *Suite) Process(ctx context.Context, raw []models.RawArtifact, prev models.ResultMap, opts suites.Options) (models.ResultMap, error) {
	page, ok := suites.FindArtifact(raw, pageID)
	if !ok {
		return nil, fmt.Errorf("missing %s artifact", pageID)
	}
	var resp response
	if a, ok := suites.FindArtifact(raw, responseID); ok {
		if err := json.Unmarshal(a.Data, &resp); err != nil {
			return nil, fmt.Errorf("invalid %s artifact: %w", responseID, err)
		}
	}

	out := models.ResultMap{
		"webapp_generator":      "",
		"webapp_version":        "",
		"webapp_latest_version": "",
		"webapp_outdated":       false,
	}
	generator := Generator(page.Data, http.Header(resp.Headers))
	if generator == "" {
		return out, nil
	}
	product, version := SplitGenerator(generator)
	out["webapp_generator"] = product
	out["webapp_version"] = version

	latest, known := s.latestFor(product)
	if known {
		out["webapp_latest_version"] = latest.Original()
	}
	if !known || version == "" {
		return out, nil
	}
	current, err := semver.NewVersion(version)
	if err != nil {
		opts.Log().Debugf("Unparsable %s version %q: %v", product, version, err)
		return out, nil
	}
	out["webapp_outdated"] = current.LessThan(latest)
	return out, nil
}
