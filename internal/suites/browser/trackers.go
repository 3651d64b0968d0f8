package browser

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

var defaultTrackers = []string{
	"2mdn.net",
	"adnxs.com",
	"adsrvr.org",
	"amazon-adsystem.com",
	"bing.com",
	"chartbeat.com",
	"criteo.com",
	"criteo.net",
	"doubleclick.net",
	"facebook.net",
	"google-analytics.com",
	"googleadservices.com",
	"googlesyndication.com",
	"googletagmanager.com",
	"googletagservices.com",
	"hotjar.com",
	"matomo.cloud",
	"mouseflow.com",
	"newrelic.com",
	"nr-data.net",
	"outbrain.com",
	"quantserve.com",
	"scorecardresearch.com",
	"taboola.com",
	"tiktok.com",
	"twitter.com",
	"yandex.ru",
}

// TrackerList matches request hosts against known tracking domains. A domain
// matches itself and all of its subdomains.
type TrackerList struct {
	domains map[string]bool
}

func NewTrackerList(domains []string) *TrackerList {
	l := &TrackerList{domains: make(map[string]bool, len(domains))}
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			l.domains[d] = true
		}
	}
	return l
}

// LoadTrackerList reads one domain per line. Blank lines and lines starting
// with # are skipped, as are adblock style "||domain^" decorations. An empty
// path yields the built-in list.
func LoadTrackerList(path string) (*TrackerList, error) {
	if path == "" {
		return NewTrackerList(defaultTrackers), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker list: %w", err)
	}
	return ParseTrackerList(data), nil
}

func ParseTrackerList(data []byte) *TrackerList {
	var domains []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		line = strings.TrimPrefix(line, "||")
		line, _, _ = strings.Cut(line, "^")
		if strings.ContainsAny(line, "/*$ ") {
			continue
		}
		domains = append(domains, line)
	}
	return NewTrackerList(domains)
}

func (l *TrackerList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.domains)
}

func (l *TrackerList) Match(host string) bool {
	if l == nil {
		return false
	}
	host = strings.Trim(strings.ToLower(host), ".")
	for host != "" {
		if l.domains[host] {
			return true
		}
		_, rest, ok := strings.Cut(host, ".")
		if !ok {
			return false
		}
		host = rest
	}
	return false
}
