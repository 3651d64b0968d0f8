// Package serverleak requests well-known paths that should never be public
// (status pages, repository metadata, dumps, private keys) and reports the
// ones that answer with matching content.
package serverleak

import (
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
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

const (
	Name = "serverleak"

	urlID = "url"
	// Only the head of a response is kept; core dumps can be large.
	maxStored = 50 * 1024
)

// Trial is one probed path. Path returns "" when the trial does not apply to
// a host.
type Trial struct {
	Path  func(host string) string
	Match func(body string) bool
}

func static(path string) func(string) string {
	return func(string) string { return path }
}

func contains(s string) func(string) bool {
	return func(body string) bool { return strings.Contains(body, s) }
}

func dbDump(body string) bool {
	for _, marker := range []string{"SQLite", "CREATE TABLE", "INSERT INTO", "DROP TABLE"} {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// hostParts splits host into subdomain, domain label and public suffix.
func hostParts(host string) (sub, domain, suffix string) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return "", host, ""
	}
	registrable := utils.RegistrableDomain(host)
	suffix, _ = publicsuffix.PublicSuffix(host)
	domain = strings.TrimSuffix(registrable, "."+suffix)
	sub = strings.TrimSuffix(strings.TrimSuffix(host, registrable), ".")
	return sub, domain, suffix
}

func domainFile(ext string) func(string) string {
	return func(host string) string {
		_, domain, _ := hostParts(host)
		return domain + ext
	}
}

func subdomainFile(ext string) func(string) string {
	return func(host string) string {
		sub, domain, _ := hostParts(host)
		if sub == "" {
			return ""
		}
		return sub + "." + domain + ext
	}
}

func fullFile(ext string) func(string) string {
	return func(host string) string {
		return strings.TrimSuffix(strings.ToLower(host), ".") + ext
	}
}

var Trials = []Trial{
	{static("server-status/"), contains("Apache Server Status")},
	{static("server-info/"), contains("Apache Server Information")},
	{static("test.php"), contains("phpinfo()")},
	{static("phpinfo.php"), contains("phpinfo()")},
	{static(".git/HEAD"), contains("ref:")},
	{static(".svn/wc.db"), contains("SQLite")},
	{static("core"), contains("ELF")},
	{static(".DS_Store"), contains("Bud1")},

	{static("dump.db"), dbDump},
	{static("dump.sql"), dbDump},
	{static("sqldump.sql"), dbDump},
	{static("sqldump.db"), dbDump},
	{static("db.sqlite"), dbDump},
	{static("data.sqlite"), dbDump},
	{static("sqlite.db"), dbDump},
	{domainFile(".sql"), dbDump},
	{subdomainFile(".sql"), dbDump},
	{fullFile(".sql"), dbDump},
	{domainFile(".db"), dbDump},
	{subdomainFile(".db"), dbDump},
	{fullFile(".db"), dbDump},

	{static("server.key"), contains("-----BEGIN")},
	{static("privatekey.key"), contains("-----BEGIN")},
	{static("private.key"), contains("-----BEGIN")},
	{static("myserver.key"), contains("-----BEGIN")},
	{static("key.pem"), contains("-----BEGIN")},
	{static("privkey.pem"), contains("-----BEGIN")},
	{domainFile(".key"), contains("-----BEGIN")},
	{subdomainFile(".key"), contains("-----BEGIN")},
	{fullFile(".key"), contains("-----BEGIN")},
	{domainFile(".pem"), contains("-----BEGIN")},
	{subdomainFile(".pem"), contains("-----BEGIN")},
	{fullFile(".pem"), contains("-----BEGIN")},
}

type response struct {
	Text       string              `json:"text"`
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	URL        string              `json:"url"`
}

type Suite struct {
	cfg    models.ServerLeakSuiteConfig
	trials []Trial
	logger *logrus.Logger
}

func New(cfg models.ServerLeakSuiteConfig, logger *logrus.Logger) *Suite {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Suite{cfg: cfg, trials: Trials, logger: logger}
}

func (s *Suite) Name() string           { return Name }
func (s *Suite) Dependencies() []string { return nil }

// paths returns the distinct trial paths for host, each with the index of
// the first trial that produced it.
func (s *Suite) paths(host string) ([]string, map[string][]int) {
	var order []string
	byPath := make(map[string][]int)
	for i, trial := range s.trials {
		p := trial.Path(host)
		if p == "" {
			continue
		}
		if _, seen := byPath[p]; !seen {
			order = append(order, p)
		}
		byPath[p] = append(byPath[p], i)
	}
	return order, byPath
}

func (s *Suite) Run(ctx context.Context, targetURL string, prev models.ResultMap, opts suites.Options) ([]models.RawArtifact, error) {
	base, err := url.Parse(targetURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid target %q", targetURL)
	}

	client := utils.NewHTTPClient(s.cfg.Timeout, opts.UserAgent, true)
	pace := newPacer(s.cfg.RateLimit, 1, s.logger)
	paths, _ := s.paths(base.Hostname())

	results := make([][]byte, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, p := range paths {
		g.Go(func() error {
			if err := pace.Wait(gctx); err != nil {
				return err
			}
			data, status, ok := s.fetch(gctx, client, base, p)
			if status != 0 {
				pace.Observe(status)
			}
			if ok {
				results[i] = data
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if n := pace.Throttled(); n > 0 {
		opts.Log().Warnf("%s throttled %d serverleak requests", base.Host, n)
	}

	raw := []models.RawArtifact{suites.Artifact(Name, urlID, "text/plain", []byte(targetURL))}
	for i, p := range paths {
		if results[i] != nil {
			raw = append(raw, suites.Artifact(Name, p, "application/json", results[i]))
		}
	}
	return raw, nil
}

// fetch requests one trial path. Responses that were redirected away from
// the path are dropped.
func (s *Suite) fetch(ctx context.Context, client *http.Client, base *url.URL, path string) ([]byte, int, bool) {
	target := fmt.Sprintf("%s://%s/%s", base.Scheme, base.Host, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, false
	}
	resp, err := client.Do(req)
	if err != nil {
		s.logger.Debugf("Trial %s failed: %v", target, err)
		return nil, 0, false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStored))
	final := resp.Request.URL.String()
	if !strings.Contains(final, base.Host+"/"+path) {
		return nil, resp.StatusCode, false
	}

	data, err := json.Marshal(response{
		Text:       strings.ToValidUTF8(string(body), "\uFFFD"),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		URL:        final,
	})
	if err != nil {
		return nil, resp.StatusCode, false
	}
	return data, resp.StatusCode, true
}

func (s *Suite) Process(ctx context.Context, raw []models.RawArtifact, prev models.ResultMap, opts suites.Options) (models.ResultMap, error) {
	a, ok := suites.FindArtifact(raw, urlID)
	if !ok {
		return nil, fmt.Errorf("missing %s artifact", urlID)
	}
	u, err := url.Parse(string(a.Data))
	if err != nil {
		return nil, fmt.Errorf("invalid stored url: %w", err)
	}

	leaks := []string{}
	paths, byPath := s.paths(u.Hostname())
	for _, p := range paths {
		artifact, ok := suites.FindArtifact(raw, p)
		if !ok {
			continue
		}
		var resp response
		if err := json.Unmarshal(artifact.Data, &resp); err != nil {
			return nil, fmt.Errorf("trial %s: %w", p, err)
		}
		if resp.StatusCode != http.StatusOK {
			continue
		}
		for _, i := range byPath[p] {
			if s.trials[i].Match(resp.Text) {
				leaks = append(leaks, p)
				break
			}
		}
	}
	return models.ResultMap{"leaks": leaks}, nil
}
