package browser

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

const (
	statusMissing = "MISSING"
	statusInfo    = "INFO"
	statusOK      = "OK"
	statusWarn    = "WARN"

	longLivedCookie = 24 * time.Hour
)

type headerRule struct {
	name  string
	grade func(value string) string
}

func always(status string) func(string) string {
	return func(string) string { return status }
}

func expect(want, match, other string) func(string) string {
	return func(v string) string {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return match
		}
		return other
	}
}

var headerRules = []headerRule{
	{"content-security-policy", always(statusInfo)},
	{"x-frame-options", always(statusInfo)},
	{"x-xss-protection", expect("1; mode=block", statusOK, statusInfo)},
	{"x-content-type-options", expect("nosniff", statusOK, statusWarn)},
	{"referrer-policy", expect("no-referrer", statusOK, statusWarn)},
}

// CheckHeaders grades the security headers of the main document. Header
// names in headers must be lower case.
func CheckHeaders(headers map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(headerRules))
	for _, rule := range headerRules {
		entry := map[string]interface{}{"value": "", "status": statusMissing}
		if v, ok := headers[rule.name]; ok {
			entry["value"] = v
			entry["status"] = rule.grade(v)
		}
		out[rule.name] = entry
	}
	return out
}

// ThirdParties returns the sorted hosts outside the site's registrable
// domain and the number of plain and TLS requests sent to them.
func ThirdParties(siteURL string, requests []Request) (hosts []string, plain, secure int) {
	site := utils.RegistrableDomain(utils.HostOf(siteURL))
	for _, r := range requests {
		u, err := url.Parse(r.URL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if utils.RegistrableDomain(host) == site {
			continue
		}
		hosts = append(hosts, host)
		switch u.Scheme {
		case "https", "wss":
			secure++
		case "http", "ws":
			plain++
		}
	}
	return utils.SortedUnique(hosts), plain, secure
}

// TrackerRequests returns the distinct request URLs whose host is on the
// tracker list, in request order.
func TrackerRequests(requests []Request, trackers *TrackerList) []string {
	var out []string
	for _, r := range requests {
		if trackers.Match(utils.HostOf(r.URL)) {
			out = append(out, r.URL)
		}
	}
	return utils.RemoveDuplicates(out)
}

type Analytics struct {
	Present bool
	// Hits counts measurement requests; only they carry the anonymisation flag.
	Hits          int
	Anonymized    int
	NotAnonymized int
}

func isAnalyticsHost(host string) bool {
	return host == "google-analytics.com" || strings.HasSuffix(host, ".google-analytics.com") ||
		host == "analytics.google.com"
}

// GoogleAnalytics inspects requests to Google Analytics. Universal Analytics
// hits are anonymised when they carry aip=1; GA4 hits always are.
func GoogleAnalytics(requests []Request) Analytics {
	var a Analytics
	for _, r := range requests {
		u, err := url.Parse(r.URL)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if host == "www.googletagmanager.com" && strings.Contains(u.RawQuery, "id=G-") {
			a.Present = true
			continue
		}
		if !isAnalyticsHost(host) {
			continue
		}
		a.Present = true
		if !strings.HasSuffix(u.Path, "/collect") {
			continue
		}
		a.Hits++
		q := u.Query()
		switch {
		case strings.HasPrefix(u.Path, "/g/"):
			a.Anonymized++
		case q.Get("aip") == "1" || strings.EqualFold(q.Get("aip"), "true"):
			a.Anonymized++
		default:
			a.NotAnonymized++
		}
	}
	return a
}

// MixedContent lists the plain HTTP subresources of a page served over
// HTTPS. Navigations are excluded so an http to https redirect does not
// count.
func MixedContent(finalURL string, requests []Request) []string {
	out := []string{}
	if !strings.HasPrefix(finalURL, "https://") {
		return out
	}
	for _, r := range requests {
		if r.ResourceType == "document" {
			continue
		}
		if strings.HasPrefix(r.URL, "http://") || strings.HasPrefix(r.URL, "ws://") {
			out = append(out, r.URL)
		}
	}
	return utils.RemoveDuplicates(out)
}

// Lifetime is the remaining lifetime of a cookie at capture time. Session
// cookies have none.
func (c Cookie) Lifetime(at time.Time) time.Duration {
	if c.Expires <= 0 {
		return 0
	}
	expires := time.Unix(int64(c.Expires), 0)
	if d := expires.Sub(at); d > 0 {
		return d
	}
	return 0
}

func (c Cookie) BaseDomain() string {
	return utils.RegistrableDomain(strings.TrimPrefix(c.Domain, "."))
}

// CookieStats classifies cookies as first or third party and short or long
// lived. Third-party cookies set by a tracker domain are also counted per
// tracker.
func CookieStats(siteURL string, cookies []Cookie, at time.Time, trackerURLs []string) map[string]interface{} {
	site := utils.RegistrableDomain(utils.HostOf(siteURL))
	trackerDomains := make(map[string]bool, len(trackerURLs))
	for _, t := range trackerURLs {
		trackerDomains[utils.RegistrableDomain(utils.HostOf(t))] = true
	}

	var fpShort, fpLong, tpShort, tpLong, tpTrack int
	seen := []string{}
	for _, c := range cookies {
		domain := c.BaseDomain()
		first := domain == site
		if !first && trackerDomains[domain] {
			tpTrack++
			if !slices.Contains(seen, domain) {
				seen = append(seen, domain)
			}
		}
		long := c.Lifetime(at) > longLivedCookie
		switch {
		case first && long:
			fpLong++
		case first:
			fpShort++
		case long:
			tpLong++
		default:
			tpShort++
		}
	}
	return map[string]interface{}{
		"first_party_short":         fpShort,
		"first_party_long":          fpLong,
		"third_party_short":         tpShort,
		"third_party_long":          tpLong,
		"third_party_track":         tpTrack,
		"third_party_track_uniq":    len(seen),
		"third_party_track_domains": seen,
	}
}
