package testssl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// Finding is one entry of testssl.sh JSON output.
type Finding struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Finding  string `json:"finding"`
	CVE      string `json:"cve,omitempty"`
}

// Document is the subset of a testssl.sh --jsonfile-pretty file this package
// reads. Stage bookkeeping documents carry only IncompleteScan or ScanLog.
type Document struct {
	ScanResult     []map[string]json.RawMessage `json:"scanResult"`
	IncompleteScan string                       `json:"incomplete_scan,omitempty"`
	ScanLog        []string                     `json:"scan_log,omitempty"`
}

// Results is the flat id -> finding view over all stages of one scan.
type Results struct {
	Findings        map[string]Finding
	Incomplete      bool
	IncompleteScans string
	MissingScans    string
	Empty           bool
	ParseError      string
}

// LoadResults merges the stage documents in order. Later stages override
// findings with the same id.
func LoadResults(docs [][]byte) (*Results, error) {
	res := &Results{Findings: make(map[string]Finding)}
	var (
		good       int
		incomplete []string
		missing    []string
	)

	for i, data := range docs {
		name := stageName(i + 1)
		if len(data) == 0 {
			continue
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if _, ok := probe["scan_log"]; ok {
			continue
		}
		if _, ok := probe["incomplete_scan"]; ok {
			incomplete = append(incomplete, name)
			continue
		}

		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if doc.ScanResult == nil {
			return &Results{Findings: map[string]Finding{}, ParseError: name + ": no scanResult"}, nil
		}
		if len(doc.ScanResult) == 0 {
			missing = append(missing, name)
			continue
		}

		good++
		for _, section := range doc.ScanResult[0] {
			var items []Finding
			if err := json.Unmarshal(section, &items); err != nil {
				continue
			}
			for _, item := range items {
				if item.ID != "" {
					res.Findings[item.ID] = item
				}
			}
		}
	}

	switch {
	case len(incomplete) > 0 || len(missing) > 0:
		res.Incomplete = true
	case good == 0:
		res.Empty = true
	}
	sort.Strings(incomplete)
	sort.Strings(missing)
	res.IncompleteScans = strings.Join(incomplete, " ")
	res.MissingScans = strings.Join(missing, " ")
	return res, nil
}

func stageName(i int) string {
	if i == 1 {
		return "jsonresult"
	}
	return fmt.Sprintf("jsonresult%d", i)
}

var (
	trustPattern    = regexp.MustCompile(`(^trust$)|(^cert_trust$)|(.*? trust$)`)
	chainPattern    = regexp.MustCompile(`.*?chain_of_trust$`)
	offeredPattern  = regexp.MustCompile(`(?i)(not )?offered`)
	keySizePattern  = regexp.MustCompile(`([0-9]+) bits`)
	higherVersionRe = regexp.MustCompile(`higher version number`)
)

var protocols = []string{"sslv2", "sslv3", "tls1", "tls1_1", "tls1_2", "tls1_3"}

var vulnerabilityIDs = []string{
	"heartbleed", "ccs", "ticketbleed", "ROBOT", "secure_renego",
	"sec_client_renego", "crime", "breach", "poodle_ssl", "fallback_scsv",
	"sweet32", "freak", "drown", "logjam", "LOGJAM_common primes", "cbc_ssl3",
	"cbc_tls1", "beast", "lucky13", "rc4",
}

var cipherIDs = []string{
	"std_NULL", "std_aNULL", "std_EXPORT", "std_DES+64Bit",
	"std_128Bit", "std_3DES", "std_HIGH", "std_STRONG",
}

func oneOf(s string, values ...string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}

// ParseCommon turns findings into the <prefix>_* result keys shared by the
// web and mail server scans.
func ParseCommon(r *Results, prefix string) models.ResultMap {
	key := func(name string) string { return prefix + "_" + name }
	out := models.ResultMap{key("has_ssl"): true}
	var missingIDs []string

	get := func(id string) (Finding, bool) {
		f, ok := r.Findings[id]
		if !ok {
			missingIDs = append(missingIDs, id)
		}
		return f, ok
	}

	var trustCert, trustChain *Finding
	ids := make([]string, 0, len(r.Findings))
	for id := range r.Findings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := r.Findings[id]
		switch {
		case trustPattern.MatchString(id):
			trustCert = &f
		case chainPattern.MatchString(id):
			trustChain = &f
		case id == "issuer" && f.Severity == "CRITICAL":
			trustChain = &f
		}
	}

	var reasons []string
	trusted := true
	if trustCert == nil || trustChain == nil {
		trusted = false
		reasons = append(reasons, "Server did not present a certificate")
	} else {
		for _, f := range []*Finding{trustCert, trustChain} {
			if !oneOf(f.Severity, "OK", "INFO") {
				trusted = false
				reasons = append(reasons, f.Finding)
			}
		}
	}
	out[key("cert_trusted")] = trusted
	out[key("cert_trusted_reason")] = strings.Join(reasons, " / ")

	if f, ok := get("pfs"); ok {
		out[key("pfs")] = f.Severity == "OK"
		out[key("pfs_severity")] = f.Severity
	}
	// WARN marks a check testssl skipped on purpose.
	if f, ok := get("CAA_record"); ok && f.Severity != "WARN" {
		out[key("caa_record")] = f.Severity == "OK"
		out[key("caa_record_severity")] = f.Severity
	}
	if f, ok := get("certificate_transparency"); ok {
		out[key("certificate_transparency")] = f.Severity == "OK"
		out[key("certificate_transparency_severity")] = f.Severity
	}
	if f, ok := get("crl"); ok {
		out[key("either_crl_or_ocsp")] = oneOf(f.Severity, "INFO", "OK")
		out[key("either_crl_or_ocsp_severity")] = f.Severity
	}
	if f, ok := get("ocsp_uri"); ok {
		out[key("offers_ocsp")] = f.Finding != "OCSP URI : --"
	}
	if f, ok := get("ocsp_stapling"); ok {
		out[key("ocsp_stapling")] = f.Severity == "OK"
		out[key("ocsp_stapling_severity")] = f.Severity
	}
	mustStaple, ok := r.Findings["OCSP must staple: ocsp_must_staple"]
	if !ok {
		mustStaple, ok = get("ocsp_must_staple")
	}
	if ok {
		out[key("ocsp_must_staple")] = mustStaple.Severity == "OK"
		out[key("ocsp_must_staple_severity")] = mustStaple.Severity
	}
	if f, ok := get("expiration"); ok {
		out[key("certificate_not_expired")] = f.Severity != "CRITICAL"
		out[key("certificate_not_expired_finding")] = f.Finding
	}
	if f, ok := get("algorithm"); ok {
		out[key("strong_sig_algorithm")] = !oneOf(f.Severity, "CRITICAL", "HIGH", "MEDIUM")
		out[key("strong_sig_algorithm_severity")] = f.Severity
		out[key("sig_algorithm")] = f.Finding
	}
	if f, ok := get("key_size"); ok {
		out[key("strong_keysize")] = !oneOf(f.Severity, "CRITICAL", "HIGH", "MEDIUM")
		out[key("strong_keysize_severity")] = f.Severity
		if m := keySizePattern.FindStringSubmatch(f.Finding); m != nil {
			out[key("keysize")] = m[1]
		}
	}
	if f, ok := get("order"); ok {
		out[key("cipher_order")] = f.Severity == "OK"
		out[key("cipher_order_severity")] = f.Severity
	}
	if f, ok := get("order_cipher"); ok && f.Severity != "WARN" {
		out[key("default_cipher")] = oneOf(f.Severity, "LOW", "OK")
		out[key("default_cipher_severity")] = f.Severity
		out[key("default_cipher_finding")] = f.Finding
	}
	if f, ok := get("order_proto"); ok && f.Severity != "WARN" {
		out[key("default_protocol")] = f.Severity == "OK"
		out[key("default_protocol_severity")] = f.Severity
		out[key("default_protocol_finding")] = f.Finding
	}
	if f, ok := get("san"); ok {
		out[key("valid_san")] = oneOf(f.Severity, "OK", "INFO")
		out[key("valid_san_severity")] = f.Severity
		out[key("san_finding")] = f.Finding
	}
	if f, ok := get("session_ticket"); ok {
		out[key("session_ticket")] = oneOf(f.Severity, "OK", "INFO")
		out[key("session_ticket_severity")] = f.Severity
		out[key("session_ticket_finding")] = f.Finding
	}

	for _, id := range protocols {
		f, ok := r.Findings[id]
		if !ok {
			continue
		}
		protoKey := key("has_protocol_" + id)
		if f.Severity == "CRITICAL" {
			out[protoKey] = !higherVersionRe.MatchString(f.Finding)
		} else {
			m := offeredPattern.FindStringSubmatch(f.Finding)
			if m == nil {
				continue
			}
			out[protoKey] = m[1] == ""
		}
		out[protoKey+"_severity"] = f.Severity
		out[protoKey+"_finding"] = f.Finding
	}

	vulns := map[string]interface{}{}
	for _, id := range vulnerabilityIDs {
		f, ok := r.Findings[id]
		if !ok {
			missingIDs = append(missingIDs, key("vulnerabilities_"+id))
			continue
		}
		vulns[id] = map[string]interface{}{"severity": f.Severity, "finding": f.Finding, "cve": f.CVE}
	}
	out[key("vulnerabilities")] = vulns

	ciphers := map[string]interface{}{}
	for _, id := range cipherIDs {
		f, ok := r.Findings[id]
		if !ok {
			missingIDs = append(missingIDs, key("ciphers_"+id))
			continue
		}
		ciphers[id] = map[string]interface{}{"severity": f.Severity, "finding": f.Finding}
	}
	out[key("ciphers")] = ciphers

	if missingIDs == nil {
		missingIDs = []string{}
	}
	out[key("testssl_missing_ids")] = missingIDs
	return out
}

// DetectHSTS reads the HSTS findings of the header stage and looks host up in
// the preload list.
func DetectHSTS(r *Results, host string, preload *PreloadList) models.ResultMap {
	out := models.ResultMap{}

	preloadHeader := false
	if f, ok := r.Findings["hsts_preload"]; ok {
		preloadHeader = f.Severity == "OK"
	}
	out["web_has_hsts_preload_header"] = preloadHeader

	header := preloadHeader
	if !header {
		if f, ok := r.Findings["hsts"]; ok {
			header = f.Severity == "OK"
		}
	}
	if f, ok := r.Findings["hsts_time"]; ok {
		header = true
		out["web_has_hsts_header_sufficient_time"] = f.Severity == "OK"
	}
	out["web_has_hsts_header"] = header
	out["web_has_hsts_preload"] = preload.Contains(host)
	return out
}

func DetectHPKP(r *Results) models.ResultMap {
	if f, ok := r.Findings["hpkp"]; ok {
		return models.ResultMap{"web_has_hpkp_header": !strings.HasPrefix(f.Finding, "No")}
	}
	if f, ok := r.Findings["hpkp_spkis"]; ok {
		return models.ResultMap{"web_has_hpkp_header": f.Severity == "OK"}
	}
	if _, ok := r.Findings["hpkp_multiple"]; ok {
		return models.ResultMap{"web_has_hpkp_header": true}
	}
	return models.ResultMap{"web_has_hpkp_header": false}
}
