package serverleak

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestHostParts(t *testing.T) {
	tests := []struct {
		host                string
		sub, domain, suffix string
	}{
		{"www.example.com", "www", "example", "com"},
		{"example.co.uk", "", "example", "co.uk"},
		{"a.b.example.org", "a.b", "example", "org"},
		{"192.0.2.1", "", "192.0.2.1", ""},
	}
	for _, tt := range tests {
		sub, domain, suffix := hostParts(tt.host)
		if sub != tt.sub || domain != tt.domain || suffix != tt.suffix {
			t.Errorf("hostParts(%q) = %q, %q, %q", tt.host, sub, domain, suffix)
		}
	}
}

func TestTrialPaths(t *testing.T) {
	s := New(models.ServerLeakSuiteConfig{}, quietLogger())

	paths, _ := s.paths("www.example.com")
	want := map[string]bool{"example.sql": false, "www.example.sql": false, "www.example.com.sql": false, "example.pem": false}
	for _, p := range paths {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, found := range want {
		if !found {
			t.Errorf("missing trial %s in %v", p, paths)
		}
	}

	paths, _ = s.paths("example.com")
	for _, p := range paths {
		if p == ".example.sql" || p == "" {
			t.Errorf("subdomain trial generated without subdomain: %q", p)
		}
	}
}

func TestRunAndProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.git/HEAD":
			io.WriteString(w, "ref: refs/heads/main\n")
		case "/dump.sql":
			io.WriteString(w, "-- MySQL dump\nCREATE TABLE users (id int);\n")
		case "/server-status/":
			// A custom error page with status 200 but no matching content.
			io.WriteString(w, "<html>Not here</html>")
		case "/private.key":
			http.Redirect(w, r, "/login", http.StatusFound)
		case "/login":
			io.WriteString(w, "-----BEGIN looks like a key but is a redirect target")
		case "/phpinfo.php":
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, "phpinfo()")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := New(models.ServerLeakSuiteConfig{Concurrency: 4, Timeout: 2 * time.Second}, quietLogger())
	raw, err := s.Run(context.Background(), srv.URL+"/", nil, suites.Options{UserAgent: "test"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := suites.FindArtifact(raw, "private.key"); ok {
		t.Error("redirected trial stored")
	}

	result, err := s.Process(context.Background(), raw, nil, suites.Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	leaks := result["leaks"].([]string)
	sort.Strings(leaks)
	if want := []string{".git/HEAD", "dump.sql"}; !reflect.DeepEqual(leaks, want) {
		t.Errorf("leaks = %v, want %v", leaks, want)
	}
}

func TestProcessWithoutLeaks(t *testing.T) {
	s := New(models.ServerLeakSuiteConfig{}, quietLogger())
	raw := []models.RawArtifact{suites.Artifact(Name, urlID, "text/plain", []byte("http://example.com/"))}
	result, err := s.Process(context.Background(), raw, nil, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if leaks, ok := result["leaks"].([]string); !ok || len(leaks) != 0 {
		t.Errorf("leaks = %#v", result["leaks"])
	}
}

func TestPacerBacksOff(t *testing.T) {
	p := newPacer(10, 1, quietLogger())
	p.Observe(http.StatusTooManyRequests)
	p.Observe(http.StatusServiceUnavailable)
	if got := float64(p.limiter.Limit()); got != 2.5 {
		t.Errorf("limit after throttling = %v, want 2.5", got)
	}
	for i := 0; i < 50; i++ {
		p.Observe(http.StatusOK)
	}
	if got := float64(p.limiter.Limit()); got != 10 {
		t.Errorf("limit after recovery = %v, want 10", got)
	}
	if p.Throttled() != 2 {
		t.Errorf("throttled = %d", p.Throttled())
	}

	unlimited := newPacer(0, 1, quietLogger())
	unlimited.Observe(http.StatusTooManyRequests)
	if unlimited.Throttled() != 0 {
		t.Error("unlimited pacer tracked throttling")
	}
}
