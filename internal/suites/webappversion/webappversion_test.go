package webappversion

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSplitGenerator(t *testing.T) {
	tests := []struct {
		in, name, version string
	}{
		{"WordPress 6.5.2", "WordPress", "6.5.2"},
		{"TYPO3 CMS", "TYPO3 CMS", ""},
		{"Joomla! - Open Source Content Management", "Joomla!", ""},
		{"Drupal 10 (https://www.drupal.org)", "Drupal", "10"},
		{"Hugo v0.121.1", "Hugo", "0.121.1"},
		{"4.2", "4.2", ""},
	}
	for _, tt := range tests {
		name, version := SplitGenerator(tt.in)
		if name != tt.name || version != tt.version {
			t.Errorf("SplitGenerator(%q) = %q, %q; want %q, %q", tt.in, name, version, tt.name, tt.version)
		}
	}
}

func TestNewRejectsBadVersions(t *testing.T) {
	if _, err := New(models.WebAppSuiteConfig{LatestVersions: map[string]string{"wordpress": "latest"}}, quietLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestProcess(t *testing.T) {
	s, err := New(models.WebAppSuiteConfig{LatestVersions: map[string]string{"WordPress": "6.6.2", "typo3 cms": "13.3.0"}}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		page      string
		headers   string
		generator string
		version   string
		latest    string
		outdated  bool
	}{
		{name: "outdated", page: `<meta name="generator" content="WordPress 6.2.1">`, generator: "WordPress", version: "6.2.1", latest: "6.6.2", outdated: true},
		{name: "current", page: `<meta name="Generator" content="WordPress 6.6.2">`, generator: "WordPress", version: "6.6.2", latest: "6.6.2"},
		{name: "no version", page: `<meta name="generator" content="TYPO3 CMS">`, generator: "TYPO3 CMS", latest: "13.3.0"},
		{name: "unknown product", page: `<meta name="generator" content="Ghost 5.0">`, generator: "Ghost", version: "5.0"},
		{name: "header", page: `<html></html>`, headers: `{"headers":{"X-Generator":["Drupal 7 (http://drupal.org)"]}}`, generator: "Drupal", version: "7"},
		{name: "none", page: `<html><meta name="description" content="x"></html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []models.RawArtifact{suites.Artifact(Name, pageID, "text/html", []byte(tt.page))}
			if tt.headers != "" {
				raw = append(raw, suites.Artifact(Name, responseID, "application/json", []byte(tt.headers)))
			}
			got, err := s.Process(context.Background(), raw, nil, suites.Options{})
			if err != nil {
				t.Fatal(err)
			}
			if got["webapp_generator"] != tt.generator || got["webapp_version"] != tt.version ||
				got["webapp_latest_version"] != tt.latest || got["webapp_outdated"] != tt.outdated {
				t.Errorf("result = %v", got)
			}
		})
	}
}

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/blog/", http.StatusMovedPermanently)
			return
		}
		io.WriteString(w, `<html><head><meta name="generator" content="WordPress 5.9"></head></html>`)
	}))
	defer srv.Close()

	s, err := New(models.WebAppSuiteConfig{LatestVersions: map[string]string{"wordpress": "6.6.2"}}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	raw, err := s.Run(context.Background(), srv.URL+"/", nil, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Process(context.Background(), raw, nil, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got["webapp_outdated"] != true || got["webapp_version"] != "5.9" {
		t.Errorf("result = %v", got)
	}
}
