// Package network resolves the DNS records of a site, locates its servers
// and follows it over HTTP and HTTPS to its final URL.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

const (
	Name = "network"

	generalID    = "general"
	finalID      = "final_url_content"
	finalHTTPSID = "final_https_url_content"

	maxBodySize = 8 << 20
	// Pages at least this similar count as the same content.
	sameContentThreshold = 0.95
)

type MXAddresses struct {
	Preference uint16   `json:"preference"`
	Addresses  []string `json:"addresses"`
}

type general struct {
	CNAMERecords  []string      `json:"cname_records"`
	ARecords      []string      `json:"a_records"`
	MXRecords     []MXRecord    `json:"mx_records"`
	MXARecords    []MXAddresses `json:"mx_a_records"`
	AReverse      [][]string    `json:"a_records_reverse"`
	MXAReverse    []MXAddresses `json:"mx_a_records_reverse"`
	Reachable     bool          `json:"reachable"`
	Unreachable   string        `json:"unreachable_exception,omitempty"`
	FinalURL      string        `json:"final_url,omitempty"`
	FinalHTTPSURL interface{}   `json:"final_https_url,omitempty"`
}

// fillEmpty replaces nil lists so they encode as [] instead of null.
func (g *general) fillEmpty() {
	if g.CNAMERecords == nil {
		g.CNAMERecords = []string{}
	}
	if g.ARecords == nil {
		g.ARecords = []string{}
	}
	if g.MXRecords == nil {
		g.MXRecords = []MXRecord{}
	}
	if g.MXARecords == nil {
		g.MXARecords = []MXAddresses{}
	}
	if g.AReverse == nil {
		g.AReverse = [][]string{}
	}
	if g.MXAReverse == nil {
		g.MXAReverse = []MXAddresses{}
	}
}

type Suite struct {
	cfg      models.NetworkSuiteConfig
	resolver *Resolver
	locator  Locator
	logger   *logrus.Logger
}

func New(cfg models.NetworkSuiteConfig, logger *logrus.Logger) (*Suite, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Suite{
		cfg:      cfg,
		resolver: NewResolver(cfg.Nameservers, cfg.DNSTimeout, cfg.RetryAttempts, logger),
		logger:   logger,
	}
	if cfg.GeoIPDatabase != "" {
		locator, err := OpenGeoIP(cfg.GeoIPDatabase)
		if err != nil {
			return nil, err
		}
		s.locator = locator
	} else {
		logger.Warn("No GeoIP database configured, server locations will be unknown")
	}
	return s, nil
}

func (s *Suite) Close() error {
	if c, ok := s.locator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Suite) Name() string           { return Name }
func (s *Suite) Dependencies() []string { return nil }

func (s *Suite) Run(ctx context.Context, targetURL string, _ models.ResultMap, opts suites.Options) ([]models.RawArtifact, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", targetURL, err)
	}
	hostname := u.Hostname()

	var (
		g       general
		content []models.RawArtifact
	)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.resolve(egctx, hostname, &g)
		return nil
	})
	eg.Go(func() error {
		content = s.follow(egctx, targetURL, opts.UserAgent, &g)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	g.fillEmpty()
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode general result: %w", err)
	}
	raw := []models.RawArtifact{suites.Artifact(Name, generalID, "application/json", data)}
	return append(raw, content...), nil
}

func (s *Suite) resolve(ctx context.Context, hostname string, g *general) {
	if ip := net.ParseIP(hostname); ip != nil {
		g.ARecords = []string{ip.String()}
	} else {
		g.CNAMERecords = s.resolver.CNAME(ctx, hostname)
		g.ARecords = s.resolver.A(ctx, hostname)
		g.MXRecords = s.resolver.MX(ctx, hostname)
		if bare := utils.StripWWW(hostname); bare != hostname {
			g.MXRecords = append(g.MXRecords, s.resolver.MX(ctx, bare)...)
		}
	}

	for _, mx := range g.MXRecords {
		addrs := s.resolver.A(ctx, mx.Host)
		g.MXARecords = append(g.MXARecords, MXAddresses{Preference: mx.Preference, Addresses: addrs})

		var names []string
		for _, a := range addrs {
			names = append(names, s.resolver.PTR(ctx, a)...)
		}
		g.MXAReverse = append(g.MXAReverse, MXAddresses{Preference: mx.Preference, Addresses: names})
	}
	for _, a := range g.ARecords {
		g.AReverse = append(g.AReverse, s.resolver.PTR(ctx, a))
	}
}

// follow fetches the site and, unless it already ended on HTTPS, its HTTPS
// variant.
func (s *Suite) follow(ctx context.Context, targetURL, userAgent string, g *general) []models.RawArtifact {
	timeout := s.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	client := utils.NewHTTPClient(timeout, userAgent, true)

	finalURL, artifact, err := fetch(ctx, client, targetURL, finalID)
	if err != nil {
		g.Reachable = false
		g.Unreachable = err.Error()
		return nil
	}
	g.Reachable = true
	g.FinalURL = finalURL
	raw := []models.RawArtifact{artifact}

	if strings.HasPrefix(finalURL, "https") {
		g.FinalHTTPSURL = finalURL
		return raw
	}

	httpsURL := "https" + strings.TrimPrefix(finalURL, "http")
	finalHTTPS, httpsArtifact, err := fetch(ctx, client, httpsURL, finalHTTPSID)
	if err != nil {
		s.logger.Debugf("HTTPS variant %s not reachable: %v", httpsURL, err)
		g.FinalHTTPSURL = false
		return raw
	}
	g.FinalHTTPSURL = finalHTTPS
	return append(raw, httpsArtifact)
}

func fetch(ctx context.Context, client *http.Client, target, identifier string) (string, models.RawArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", models.RawArtifact{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", models.RawArtifact{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", models.RawArtifact{}, fmt.Errorf("read body: %w", err)
	}
	return resp.Request.URL.String(), suites.Artifact(Name, identifier, resp.Header.Get("Content-Type"), body), nil
}

func (s *Suite) Process(_ context.Context, raw []models.RawArtifact, _ models.ResultMap, _ suites.Options) (models.ResultMap, error) {
	artifact, ok := suites.FindArtifact(raw, generalID)
	if !ok {
		return nil, fmt.Errorf("missing %s artifact", generalID)
	}

	var g general
	if err := json.Unmarshal(artifact.Data, &g); err != nil {
		return nil, fmt.Errorf("decode general result: %w", err)
	}
	result := models.ResultMap{}
	if err := json.Unmarshal(artifact.Data, &result); err != nil {
		return nil, fmt.Errorf("decode general result: %w", err)
	}

	var mxAddresses []string
	for _, mx := range g.MXARecords {
		mxAddresses = append(mxAddresses, mx.Addresses...)
	}
	result["a_locations"] = countries(s.locator, g.ARecords)
	result["mx_locations"] = countries(s.locator, mxAddresses)

	finalIsHTTPS := strings.HasPrefix(g.FinalURL, "https")
	result["final_url_is_https"] = finalIsHTTPS

	plain, okPlain := suites.FindArtifact(raw, finalID)
	secure, okSecure := suites.FindArtifact(raw, finalHTTPSID)
	if !finalIsHTTPS && okPlain && okSecure {
		result["same_content_via_https"] = JaccardIndex(plain.Data, secure.Data) > sameContentThreshold
	}
	return result, nil
}

// JaccardIndex compares two documents as sets of whitespace separated
// tokens. Tokens containing "/" are ignored so that absolute links to the
// other scheme do not count as differences.
func JaccardIndex(a, b []byte) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	union := len(setA)
	intersection := 0
	for token := range setB {
		if setA[token] {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func tokenSet(data []byte) map[string]bool {
	set := make(map[string]bool)
	for _, line := range bytes.Split(data, []byte("\n")) {
		for _, token := range bytes.Split(line, []byte(" ")) {
			if bytes.Contains(token, []byte("/")) {
				continue
			}
			set[string(token)] = true
		}
	}
	return set
}

// MailServers returns the mail exchanger hosts found by a previous network
// run, best preference first.
func MailServers(prev models.ResultMap) []string {
	var hosts []string
	switch records := prev["mx_records"].(type) {
	case []MXRecord:
		for _, mx := range records {
			hosts = append(hosts, mx.Host)
		}
	case []interface{}:
		for _, item := range records {
			if m, ok := item.(map[string]interface{}); ok {
				if host, ok := m["host"].(string); ok && host != "" {
					hosts = append(hosts, host)
				}
			}
		}
	}
	return hosts
}
