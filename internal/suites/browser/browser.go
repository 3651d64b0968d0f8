// Package browser loads a site in a real browser and reports third parties,
// trackers, cookies, Google Analytics usage, security headers and mixed
// content.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/internal/suites/network"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

const (
	Name = "browser"

	urlID        = "raw_url"
	crawlID      = "crawldata"
	screenshotID = "screenshot"

	crawlAttempts = 3
	retryDelay    = 10 * time.Second
)

type Suite struct {
	crawler    Crawler
	trackers   *TrackerList
	retryDelay time.Duration
	logger     *logrus.Logger
}

// New builds the suite around a Playwright crawler.
func New(cfg models.BrowserSuiteConfig, logger *logrus.Logger) (*Suite, error) {
	return NewWithCrawler(cfg, NewPlaywrightCrawler(cfg, logger), logger)
}

func NewWithCrawler(cfg models.BrowserSuiteConfig, crawler Crawler, logger *logrus.Logger) (*Suite, error) {
	if logger == nil {
		logger = logrus.New()
	}
	trackers, err := LoadTrackerList(cfg.TrackerList)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Browser suite loaded %d tracker domains", trackers.Len())
	return &Suite{crawler: crawler, trackers: trackers, retryDelay: retryDelay, logger: logger}, nil
}

func (s *Suite) Name() string           { return Name }
func (s *Suite) Dependencies() []string { return []string{network.Name} }

// Close shuts the browser down.
func (s *Suite) Close() error { return s.crawler.Close() }

func skipped(prev models.ResultMap) (string, bool) {
	if _, ok := prev["dns_error"]; ok {
		return "browser_skipped_due_to_dns_error", true
	}
	if reachable, ok := prev["reachable"].(bool); !ok || !reachable {
		return "browser_skipped_due_to_not_reachable", true
	}
	return "", false
}

func (s *Suite) Run(ctx context.Context, targetURL string, prev models.ResultMap, opts suites.Options) ([]models.RawArtifact, error) {
	raw := []models.RawArtifact{suites.Artifact(Name, urlID, "text/plain", []byte(targetURL))}
	if _, skip := skipped(prev); skip {
		return raw, nil
	}

	var capture *Capture
	err := utils.RetryWithContext(ctx, crawlAttempts, s.retryDelay, func() error {
		c, err := s.crawler.Crawl(ctx, targetURL, opts.UserAgent)
		if err != nil {
			opts.Log().Warnf("Browser crawl of %s failed: %v", targetURL, err)
			return err
		}
		capture = c
		return nil
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return append(raw, suites.Artifact(Name, crawlID, "application/json", []byte("null"))), nil
	}

	data, err := json.Marshal(capture)
	if err != nil {
		return nil, fmt.Errorf("failed to encode crawl data: %w", err)
	}
	raw = append(raw, suites.Artifact(Name, crawlID, "application/json", data))
	if len(capture.Screenshot) > 0 {
		raw = append(raw, suites.Artifact(Name, screenshotID, "image/png", capture.Screenshot))
	}
	return raw, nil
}

func (s *Suite) Process(ctx context.Context, raw []models.RawArtifact, prev models.ResultMap, opts suites.Options) (models.ResultMap, error) {
	out := models.ResultMap{
		"https":               false,
		"success":             false,
		"redirected_to_https": false,
		"requests":            []Request{},
		"profilecookies":      []Cookie{},
		"headerchecks":        map[string]interface{}{},
	}
	if key, skip := skipped(prev); skip {
		out[key] = true
		return out, nil
	}

	a, ok := suites.FindArtifact(raw, crawlID)
	if !ok {
		return nil, fmt.Errorf("missing %s artifact", crawlID)
	}
	var capture *Capture
	if err := json.Unmarshal(a.Data, &capture); err != nil {
		return nil, fmt.Errorf("invalid %s artifact: %w", crawlID, err)
	}
	if capture == nil {
		return out, nil
	}
	if capture.Requests == nil {
		capture.Requests = []Request{}
	}

	out["initial_url"] = capture.SiteURL
	out["requests"] = capture.Requests
	out["requests_count"] = len(capture.Requests)

	hosts, plain, secure := ThirdParties(capture.SiteURL, capture.Requests)
	if hosts == nil {
		hosts = []string{}
	}
	out["third_parties"] = hosts
	out["third_parties_count"] = len(hosts)
	out["third_party_requests_count"] = plain + secure

	trackers := TrackerRequests(capture.Requests, s.trackers)
	out["tracker_requests"] = trackers

	ga := GoogleAnalytics(capture.Requests)
	out["google_analytics_present"] = ga.Present
	if ga.Hits > 0 {
		out["google_analytics_anonymizeIP_set"] = ga.Anonymized
		out["google_analytics_anonymizeIP_not_set"] = ga.NotAnonymized
	}

	if len(capture.Requests) == 0 || capture.Error != "" {
		if capture.Error != "" {
			opts.Log().Debugf("Browser could not load %s: %s", capture.SiteURL, capture.Error)
		}
		return out, nil
	}
	out["success"] = true
	out["browser_final_url"] = capture.FinalURL

	finalHTTPS := strings.HasPrefix(capture.FinalURL, "https://")
	out["https"] = finalHTTPS
	out["redirected_to_https"] = strings.HasPrefix(capture.SiteURL, "http://") && finalHTTPS

	out["headerchecks"] = CheckHeaders(capture.ResponseHeaders)

	cookies := capture.Cookies
	if cookies == nil {
		cookies = []Cookie{}
	}
	out["profilecookies"] = cookies
	out["cookies_count"] = len(cookies)
	out["cookie_stats"] = CookieStats(capture.SiteURL, cookies, capture.CapturedAt, trackers)

	mixed := MixedContent(capture.FinalURL, capture.Requests)
	out["mixed_content"] = len(mixed) > 0
	out["mixed_content_urls"] = mixed
	return out, nil
}
