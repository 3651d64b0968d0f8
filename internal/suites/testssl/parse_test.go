package testssl

import (
	"reflect"
	"testing"
)

const stageOne = `{
  "scanResult": [{
    "targetHost": "example.com",
    "protocols": [
      {"id": "SSLv2", "severity": "OK", "finding": "not offered"},
      {"id": "sslv2", "severity": "OK", "finding": "not offered"},
      {"id": "sslv3", "severity": "OK", "finding": "not offered"},
      {"id": "tls1", "severity": "LOW", "finding": "offered (deprecated)"},
      {"id": "tls1_1", "severity": "INFO", "finding": "not offered"},
      {"id": "tls1_2", "severity": "OK", "finding": "offered"},
      {"id": "tls1_3", "severity": "CRITICAL", "finding": "server responded with higher version number (TLSv1.3) than requested by client"}
    ],
    "headerResponse": [
      {"id": "hsts_time", "severity": "OK", "finding": "365 days"},
      {"id": "hsts_preload", "severity": "INFO", "finding": "domain is NOT marked for preloading"},
      {"id": "hpkp", "severity": "INFO", "finding": "No support for HTTP Public Key Pinning"}
    ]
  }]
}`

const stageTwo = `{
  "scanResult": [{
    "serverDefaults": [
      {"id": "cert_trust", "severity": "OK", "finding": "Ok via SAN"},
      {"id": "cert_chain_of_trust", "severity": "OK", "finding": "passed."},
      {"id": "expiration", "severity": "OK", "finding": "89 >= 30 days"},
      {"id": "key_size", "severity": "OK", "finding": "Server keys 2048 bits"},
      {"id": "algorithm", "severity": "OK", "finding": "SHA256 with RSA"},
      {"id": "san", "severity": "INFO", "finding": "example.com www.example.com"},
      {"id": "crl", "severity": "INFO", "finding": "http://crl.example/ca.crl"},
      {"id": "ocsp_uri", "severity": "INFO", "finding": "OCSP URI : --"},
      {"id": "ocsp_stapling", "severity": "LOW", "finding": "not offered"},
      {"id": "CAA_record", "severity": "WARN", "finding": "skipped"}
    ],
    "vulnerabilities": [
      {"id": "heartbleed", "severity": "OK", "finding": "not vulnerable", "cve": "CVE-2014-0160"},
      {"id": "sweet32", "severity": "LOW", "finding": "VULNERABLE"}
    ],
    "ciphers": [
      {"id": "std_3DES", "severity": "MEDIUM", "finding": "offered"}
    ]
  }]
}`

func TestLoadResultsMergesStages(t *testing.T) {
	res, err := LoadResults([][]byte{[]byte(stageOne), []byte(stageTwo), nil})
	if err != nil {
		t.Fatal(err)
	}
	if res.Incomplete || res.Empty || res.ParseError != "" {
		t.Fatalf("unexpected state: %+v", res)
	}
	if res.Findings["heartbleed"].CVE != "CVE-2014-0160" {
		t.Errorf("heartbleed = %+v", res.Findings["heartbleed"])
	}
	if _, ok := res.Findings["cert_trust"]; !ok {
		t.Error("second stage not merged")
	}
}

func TestLoadResultsStates(t *testing.T) {
	tests := []struct {
		name           string
		docs           []string
		wantIncomplete string
		wantMissing    string
		wantEmpty      bool
		wantParseError bool
	}{
		{name: "all empty", docs: []string{"", ""}, wantEmpty: true},
		{name: "only log", docs: []string{`{"scan_log":["x"]}`}, wantEmpty: true},
		{name: "missing stage", docs: []string{stageOne, `{"scanResult":[]}`}, wantMissing: "jsonresult2"},
		{name: "incomplete", docs: []string{stageOne, `{"incomplete_scan":"stage1"}`}, wantIncomplete: "jsonresult2"},
		{name: "no scan result", docs: []string{stageOne, `{"other":1}`}, wantParseError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var docs [][]byte
			for _, d := range tt.docs {
				docs = append(docs, []byte(d))
			}
			res, err := LoadResults(docs)
			if err != nil {
				t.Fatal(err)
			}
			if (res.ParseError != "") != tt.wantParseError {
				t.Fatalf("parse error = %q", res.ParseError)
			}
			if tt.wantParseError {
				return
			}
			if res.Empty != tt.wantEmpty {
				t.Errorf("empty = %v", res.Empty)
			}
			if res.IncompleteScans != tt.wantIncomplete || res.MissingScans != tt.wantMissing {
				t.Errorf("incomplete = %q, missing = %q", res.IncompleteScans, res.MissingScans)
			}
			if res.Incomplete != (tt.wantIncomplete != "" || tt.wantMissing != "") {
				t.Errorf("incomplete flag = %v", res.Incomplete)
			}
		})
	}

	if _, err := LoadResults([][]byte{[]byte("{broken")}); err == nil {
		t.Error("invalid JSON accepted")
	}
}

func TestParseCommon(t *testing.T) {
	res, err := LoadResults([][]byte{[]byte(stageOne), []byte(stageTwo)})
	if err != nil {
		t.Fatal(err)
	}
	got := ParseCommon(res, "web")

	want := map[string]interface{}{
		"web_has_ssl":                    true,
		"web_cert_trusted":               true,
		"web_cert_trusted_reason":        "",
		"web_certificate_not_expired":    true,
		"web_strong_keysize":             true,
		"web_keysize":                    "2048",
		"web_strong_sig_algorithm":       true,
		"web_valid_san":                  true,
		"web_either_crl_or_ocsp":         true,
		"web_offers_ocsp":                false,
		"web_ocsp_stapling":              false,
		"web_has_protocol_sslv2":         false,
		"web_has_protocol_tls1":          true,
		"web_has_protocol_tls1_1":        false,
		"web_has_protocol_tls1_2":        true,
		"web_has_protocol_tls1_3":        false,
		"web_has_protocol_tls1_severity": "LOW",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %#v, want %#v", k, got[k], v)
		}
	}
	if _, ok := got["web_caa_record"]; ok {
		t.Error("skipped CAA check reported")
	}

	vulns := got["web_vulnerabilities"].(map[string]interface{})
	if sweet := vulns["sweet32"].(map[string]interface{}); sweet["severity"] != "LOW" {
		t.Errorf("sweet32 = %v", sweet)
	}
	if _, ok := vulns["drown"]; ok {
		t.Error("absent vulnerability reported")
	}
	ciphers := got["web_ciphers"].(map[string]interface{})
	if len(ciphers) != 1 {
		t.Errorf("ciphers = %v", ciphers)
	}

	missing := got["web_testssl_missing_ids"].([]string)
	for _, id := range []string{"pfs", "session_ticket", "web_vulnerabilities_drown"} {
		found := false
		for _, m := range missing {
			found = found || m == id
		}
		if !found {
			t.Errorf("%s not listed as missing: %v", id, missing)
		}
	}
}

func TestParseCommonUntrusted(t *testing.T) {
	res := &Results{Findings: map[string]Finding{
		"cert_trust":          {ID: "cert_trust", Severity: "HIGH", Finding: "certificate does not match supplied URI"},
		"cert_chain_of_trust": {ID: "cert_chain_of_trust", Severity: "CRITICAL", Finding: "failed (self signed)."},
	}}
	got := ParseCommon(res, "mx")
	if got["mx_cert_trusted"] != false {
		t.Fatalf("mx_cert_trusted = %v", got["mx_cert_trusted"])
	}
	want := "certificate does not match supplied URI / failed (self signed)."
	if got["mx_cert_trusted_reason"] != want {
		t.Errorf("reason = %q", got["mx_cert_trusted_reason"])
	}

	got = ParseCommon(&Results{Findings: map[string]Finding{}}, "mx")
	if got["mx_cert_trusted_reason"] != "Server did not present a certificate" {
		t.Errorf("reason = %q", got["mx_cert_trusted_reason"])
	}
}

func TestDetectHeaders(t *testing.T) {
	res, err := LoadResults([][]byte{[]byte(stageOne)})
	if err != nil {
		t.Fatal(err)
	}
	preload, err := ParsePreloadList([]byte(`{"entries": [{"name": "example.com", "mode": "force-https", "include_subdomains": true}]}`))
	if err != nil {
		t.Fatal(err)
	}

	hsts := DetectHSTS(res, "www.example.com", preload)
	want := map[string]interface{}{
		"web_has_hsts_preload_header":         false,
		"web_has_hsts_header":                 true,
		"web_has_hsts_header_sufficient_time": true,
		"web_has_hsts_preload":                true,
	}
	if !reflect.DeepEqual(map[string]interface{}(hsts), want) {
		t.Errorf("hsts = %v", hsts)
	}

	if got := DetectHPKP(res); got["web_has_hpkp_header"] != false {
		t.Errorf("hpkp = %v", got)
	}
	pinned := &Results{Findings: map[string]Finding{"hpkp_spkis": {Severity: "OK"}}}
	if got := DetectHPKP(pinned); got["web_has_hpkp_header"] != true {
		t.Errorf("hpkp = %v", got)
	}
}
