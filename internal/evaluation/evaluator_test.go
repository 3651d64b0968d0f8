package evaluation

import (
	"strings"
	"testing"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func outcomesByName(outcomes []CheckOutcome) map[string]CheckOutcome {
	m := make(map[string]CheckOutcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Name] = o
	}
	return m
}

func TestDefaultChecksAreValid(t *testing.T) {
	if err := DefaultChecks().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestCheckTableRejectsDuplicates(t *testing.T) {
	table := CheckTable{"ssl": {{Name: "a"}, {Name: "a"}}}
	if err := table.Validate(); err == nil {
		t.Fatal("expected duplicate check error")
	}
}

func TestEvaluateMinimalResult(t *testing.T) {
	r := models.ResultMap{
		"success":                 true,
		"third_parties_count":     0,
		"web_has_ssl":             true,
		"web_has_protocol_tls1_2": true,
		"web_has_protocol_sslv2":  false,
	}
	eval, outcomes := NewEvaluator(nil, nil).Evaluate(r)
	if !eval.Rateable {
		t.Fatal("site should be rateable")
	}
	byName := outcomesByName(outcomes)

	want := map[string]Level{
		"third_parties":                LevelGood,
		"web_insecure_protocols_sslv2": LevelGood,
		"web_secure_protocols_tls1_2":  LevelGood,
		"site_redirects_to_https":      LevelNeutral,
	}
	for name, lvl := range want {
		o, ok := byName[name]
		if !ok {
			t.Errorf("check %s missing from outcomes", name)
			continue
		}
		if o.Result.Rating.Level != lvl {
			t.Errorf("%s = %s, want %s", name, o.Result.Rating.Level, lvl)
		}
	}
	if _, ok := byName["web_cert"]; ok {
		t.Error("web_cert should be skipped without cert_trusted")
	}

	ssl := eval.Groups["ssl"]
	if ssl.Rating().Level != LevelGood {
		t.Fatalf("ssl group = %s, want good", ssl)
	}
	if ssl.Good != 2 || ssl.Bad != 0 || ssl.Neutral != 1 {
		t.Fatalf("ssl counters = %+v", ssl)
	}
}

func TestEvaluateUnreachable(t *testing.T) {
	eval, outcomes := NewEvaluator(nil, nil).Evaluate(models.ResultMap{"reachable": false, "success": true})
	if eval.Rateable || outcomes != nil {
		t.Fatalf("unreachable site should be unrateable, got %s", eval)
	}
	eval, _ = NewEvaluator(nil, nil).Evaluate(models.ResultMap{"reachable": true})
	if !eval.Rateable {
		t.Fatal("reachable site should be rateable")
	}
}

func TestEvaluateSkipsUnknownGroups(t *testing.T) {
	e := NewEvaluator(CheckTable{"ssl": sslChecks()}, []string{"ssl", "privacy"})
	eval, _ := e.Evaluate(models.ResultMap{"web_has_ssl": true})
	if _, ok := eval.Groups["privacy"]; ok {
		t.Fatal("privacy group should not be evaluated without checks")
	}
	if len(eval.GroupOrder) != 1 || eval.GroupOrder[0] != "ssl" {
		t.Fatalf("group order = %v", eval.GroupOrder)
	}
}

func TestFailedBrowserScanDevaluesPrivacy(t *testing.T) {
	e := NewEvaluator(nil, nil)
	g, _ := e.EvaluateGroup("privacy", models.ResultMap{
		"success":             false,
		"third_parties_count": 0,
		"tracker_requests":    []string{},
	})
	if !g.Devalued() || g.Rating().Level != LevelWarning {
		t.Fatalf("privacy = %s, devaluating=%d", g, g.Devaluating)
	}
}

func TestCheckDescriptions(t *testing.T) {
	e := NewEvaluator(nil, nil)
	cases := []struct {
		group, name string
		result      models.ResultMap
		level       Level
		contains    string
	}{
		{"privacy", "third_parties", models.ResultMap{
			"third_parties_count": 3, "third_parties": []string{"a.com", "b.com", "c.com"},
		}, LevelBad, "3 third party servers"},
		{"privacy", "third_parties", models.ResultMap{
			"third_parties_count": 1, "third_parties": []string{"a.com"},
		}, LevelBad, "one third party server"},
		{"privacy", "webserver_locations", models.ResultMap{"a_locations": []string{"Germany"}}, LevelGood, "Germany"},
		{"privacy", "webserver_locations", models.ResultMap{"a_locations": []string{"Germany", "United States"}}, LevelBad, "Germany and United States"},
		{"privacy", "google_analytics_anonymizeIP_not_set", models.ResultMap{
			"google_analytics_present": true, "google_analytics_anonymizeIP_not_set": true,
		}, LevelBad, "anonymizeIP"},
		{"security", "header_csp", models.ResultMap{
			"headerchecks": map[string]interface{}{"content-security-policy": map[string]interface{}{"status": "INFO"}},
		}, LevelGood, "Content-Security-Policy"},
		{"security", "header_xfo", models.ResultMap{
			"headerchecks": map[string]interface{}{"x-frame-options": map[string]interface{}{"status": "MISSING"}},
		}, LevelBad, "does not set"},
		{"security", "webapp_outdated", models.ResultMap{
			"webapp_generator": "WordPress", "webapp_version": "5.0.1", "webapp_outdated": true,
		}, LevelBad, "WordPress"},
		{"ssl", "web_scan_finished", models.ResultMap{"web_has_ssl": false}, LevelCritical, "HTTPS"},
		{"ssl", "web_insecure_protocols_tls1", models.ResultMap{
			"web_has_ssl": true, "web_has_protocol_tls1": true,
		}, LevelNeutral, "TLS 1.0"},
		{"ssl", "web_secure_protocols_tls1_2", models.ResultMap{
			"web_has_ssl": true, "web_has_protocol_tls1_2": false,
		}, LevelCritical, "does not support TLS 1.2"},
		{"ssl", "web_secure_protocols_tls1_3", models.ResultMap{
			"web_has_ssl": true, "web_has_protocol_tls1_3": true, "web_has_protocol_tls1_3_severity": "HIGH",
		}, LevelBad, "problem"},
		{"ssl", "web_vuln_heartbleed", models.ResultMap{
			"web_has_ssl": true,
			"web_vulnerabilities": map[string]interface{}{
				"heartbleed": map[string]interface{}{"severity": "CRITICAL", "finding": "VULNERABLE"},
			},
		}, LevelBad, "Heartbleed"},
		{"ssl", "web_vuln_robot", models.ResultMap{
			"web_has_ssl": true,
			"web_vulnerabilities": map[string]interface{}{
				"ROBOT": map[string]interface{}{"severity": "OK", "finding": "not vulnerable"},
			},
		}, LevelGood, "ROBOT"},
		{"ssl", "web_hsts_header", models.ResultMap{
			"web_has_ssl": true, "web_has_hsts_header": true, "web_has_hsts_preload": false, "web_has_hsts_preload_header": false,
		}, LevelGood, "HSTS"},
		{"mx", "has_mx", models.ResultMap{"mx_records": []string{}}, LevelNeutral, "no mail server"},
		{"mx", "mx_ciphers_null", models.ResultMap{
			"mx_has_ssl": false, "mx_ciphers": map[string]interface{}{},
		}, LevelNeutral, "STARTTLS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := e.EvaluateCheck(tc.group, tc.name, tc.result)
			if !ok {
				t.Fatalf("check %s/%s not registered", tc.group, tc.name)
			}
			if res == nil {
				t.Fatalf("check %s returned no result", tc.name)
			}
			if res.Rating.Level != tc.level {
				t.Errorf("rating = %s, want %s", res.Rating.Level, tc.level)
			}
			if !strings.Contains(res.Description, tc.contains) {
				t.Errorf("description %q does not mention %q", res.Description, tc.contains)
			}
		})
	}
}

func TestHPKPIsInformational(t *testing.T) {
	res, _ := NewEvaluator(nil, nil).EvaluateCheck("ssl", "web_has_hpkp_header",
		models.ResultMap{"web_has_hpkp_header": true, "web_has_ssl": true})
	if res == nil || res.Rating.InfluencesRanking {
		t.Fatalf("hpkp should not influence ranking: %+v", res)
	}
}
