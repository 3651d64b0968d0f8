// Package testssl checks the TLS configuration of the web server and of the
// first mail server of a site. It drives testssl.sh when it is installed and
// falls back to a native handshake probe otherwise.
package testssl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/internal/suites/network"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

const (
	HTTPSName = "testssl_https"
	MXName    = "testssl_mx"

	hostnameID = "testssl_hostname"
	resultID   = "jsonresult"
	scanLogID  = "scan_log"

	handshakeTimeout = 15 * time.Second
	stageBackoff     = 60 * time.Second
)

type Suite struct {
	name     string
	prefix   string
	mx       bool
	cfg      models.TestSSLSuiteConfig
	binary   string
	preload  *PreloadList
	resolver *network.Resolver
	backoff  time.Duration
	logger   *logrus.Logger
}

// NewHTTPS returns the suite for the web server. The preload list is
// optional; without it no site counts as preloaded.
func NewHTTPS(cfg models.TestSSLSuiteConfig, resolver *network.Resolver, logger *logrus.Logger) (*Suite, error) {
	s := newSuite(HTTPSName, "web", false, cfg, resolver, logger)
	if cfg.PreloadList != "" {
		list, err := LoadPreloadList(cfg.PreloadList)
		if err != nil {
			return nil, err
		}
		s.preload = list
		s.logger.Infof("Loaded %d HSTS preload entries", list.Len())
	}
	return s, nil
}

func NewMX(cfg models.TestSSLSuiteConfig, resolver *network.Resolver, logger *logrus.Logger) *Suite {
	return newSuite(MXName, "mx", true, cfg, resolver, logger)
}

func newSuite(name, prefix string, mx bool, cfg models.TestSSLSuiteConfig, resolver *network.Resolver, logger *logrus.Logger) *Suite {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MXPort <= 0 {
		cfg.MXPort = 25
	}
	s := &Suite{
		name:     name,
		prefix:   prefix,
		mx:       mx,
		cfg:      cfg,
		resolver: resolver,
		backoff:  stageBackoff,
		logger:   logger,
	}
	if cfg.Binary != "" {
		if path, err := exec.LookPath(cfg.Binary); err == nil {
			s.binary = path
		} else {
			logger.Warnf("%s: testssl.sh not found (%v), using the native probe", name, err)
		}
	}
	return s
}

func (s *Suite) Name() string           { return s.name }
func (s *Suite) Dependencies() []string { return []string{network.Name} }

// host picks the server to test and the address to connect to. An empty host
// means there is nothing to test.
func (s *Suite) host(targetURL string, prev models.ResultMap) (string, string) {
	if s.mx {
		servers := network.MailServers(prev)
		if len(servers) == 0 {
			return "", ""
		}
		return servers[0], net.JoinHostPort(servers[0], strconv.Itoa(s.cfg.MXPort))
	}

	scanURL, _ := prev["final_https_url"].(string)
	sameContent, _ := prev["same_content_via_https"].(bool)
	finalIsHTTPS, _ := prev["final_url_is_https"].(bool)
	if scanURL == "" || !(sameContent || finalIsHTTPS) {
		if !strings.HasPrefix(targetURL, "https") {
			return "", ""
		}
		scanURL = targetURL
	}

	u, err := url.Parse(scanURL)
	if err != nil || u.Hostname() == "" {
		return "", ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}
	return u.Hostname(), net.JoinHostPort(u.Hostname(), port)
}

func (s *Suite) Run(ctx context.Context, targetURL string, prev models.ResultMap, opts suites.Options) ([]models.RawArtifact, error) {
	host, addr := s.host(targetURL, prev)
	if host == "" {
		opts.Log().Infof("%s: nothing to test for %s", s.name, targetURL)
		return []models.RawArtifact{
			suites.Artifact(s.name, resultID, "application/json", []byte{}),
			suites.Artifact(s.name, hostnameID, "text/plain", []byte{}),
		}, nil
	}

	dial := directDialer(handshakeTimeout)
	if s.mx {
		dial = smtpDialer(handshakeTimeout, utils.Hostname())
	}
	probe := NewProbe(dial, handshakeTimeout, s.resolver, s.logger)
	probe.userAgent = opts.UserAgent

	var (
		docs [][]byte
		log  []string
	)
	if s.binary != "" {
		workDir, err := os.MkdirTemp(opts.TempDir, "testssl-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
		defer os.RemoveAll(workDir)

		runner := &stageRunner{
			backoff: s.backoff,
			mx:      s.mx,
			check:   func(ctx context.Context) bool { return probe.Possible(ctx, addr, host) },
			exec:    execTestSSL(s.binary, s.cfg.StageTimeout),
			logger:  s.logger,
		}
		target := host
		if s.mx || !strings.HasSuffix(addr, ":443") {
			target = addr
		}
		docs, log = runner.run(ctx, target, workDir)
	} else {
		data, err := probe.Scan(ctx, host, addr, !s.mx)
		switch {
		case errors.Is(err, ErrNoTLS):
			log = []string{"no TLS handshake possible with " + addr}
			docs = [][]byte{{}}
		case err != nil:
			return nil, err
		default:
			log = []string{"native probe of " + addr}
			docs = [][]byte{data}
		}
	}

	raw := []models.RawArtifact{
		suites.Artifact(s.name, hostnameID, "text/plain", []byte(host)),
		suites.Artifact(s.name, scanLogID, "text/plain", []byte(strings.Join(log, "\n"))),
	}
	for i, doc := range docs {
		if i > 0 && len(doc) == 0 {
			continue
		}
		raw = append(raw, suites.Artifact(s.name, stageName(i+1), "application/json", doc))
	}
	return raw, nil
}

// stageDocs returns the jsonresult artifacts in stage order.
func stageDocs(raw []models.RawArtifact) [][]byte {
	type indexed struct {
		n    int
		data []byte
	}
	var found []indexed
	for _, a := range raw {
		if !strings.HasPrefix(a.Identifier, resultID) {
			continue
		}
		n := 1
		if suffix := strings.TrimPrefix(a.Identifier, resultID); suffix != "" {
			v, err := strconv.Atoi(suffix)
			if err != nil {
				continue
			}
			n = v
		}
		found = append(found, indexed{n, a.Data})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	docs := make([][]byte, 0, len(found))
	for _, f := range found {
		docs = append(docs, f.data)
	}
	return docs
}

func (s *Suite) Process(ctx context.Context, raw []models.RawArtifact, prev models.ResultMap, opts suites.Options) (models.ResultMap, error) {
	key := func(name string) string { return s.prefix + "_" + name }
	out := models.ResultMap{key("ssl_finished"): true}

	if !s.mx {
		if first, ok := suites.FindArtifact(raw, resultID); !ok || len(first.Data) == 0 {
			out[key("has_ssl")] = false
			return out, nil
		}
	}

	results, err := LoadResults(stageDocs(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to load testssl results: %w", err)
	}
	if results.ParseError != "" {
		out[key("scan_failed")] = true
		if s.mx {
			out[key("parse_error")] = results.ParseError
		}
		return out, nil
	}
	if results.Empty {
		out[key("has_ssl")] = false
		return out, nil
	}

	if results.Incomplete {
		out[key("testssl_incomplete")] = true
	}
	if results.IncompleteScans != "" {
		out[key("testssl_incomplete_scans")] = results.IncompleteScans
	}
	if results.MissingScans != "" {
		out[key("testssl_missing_scans")] = results.MissingScans
	}
	out.Merge(ParseCommon(results, s.prefix))

	if !s.mx {
		var host string
		if a, ok := suites.FindArtifact(raw, hostnameID); ok {
			host = string(a.Data)
		}
		out.Merge(DetectHSTS(results, host, s.preload))
		out.Merge(DetectHPKP(results))
	}
	return out, nil
}
