package evaluation

import (
	"fmt"
	"strings"
)

// tlsTarget parameterises the TLS check family for the web server and the
// mail server.
type tlsTarget struct {
	prefix    string
	transport string
}

var (
	webTarget  = tlsTarget{prefix: "web", transport: "HTTPS"}
	mailTarget = tlsTarget{prefix: "mx", transport: "STARTTLS"}
)

func (t tlsTarget) key(name string) string { return t.prefix + "_" + name }

func (t tlsTarget) hasSSL() string { return t.key("has_ssl") }

func (t tlsTarget) skipped(what string) *CheckResult {
	return result(Neutral(), fmt.Sprintf("Skipping check for %s because the server does not offer %s.", what, t.transport))
}

func withFinding(r *CheckResult, severity, finding string) *CheckResult {
	r.Severity = severity
	r.Finding = finding
	return r
}

func tlsChecks(t tlsTarget) []CheckDefinition {
	checks := []CheckDefinition{
		{
			Name:         t.key("scan_failed"),
			Title:        "Check if the TLS scan succeeded",
			RequiredKeys: keys(t.key("scan_failed")),
			Classify: func(k Keys) *CheckResult {
				if !k.Bool(t.key("scan_failed")) {
					return nil
				}
				return result(Neutral().Devaluating(), "The testssl scan experienced an unexpected error. Please rescan and contact us if the problem persists.")
			},
		},
		{
			Name:         t.key("testssl_incomplete"),
			Title:        "Check if all results from the scan are available",
			RequiredKeys: keys(t.key("testssl_incomplete")),
			Classify: func(k Keys) *CheckResult {
				if !k.Bool(t.key("testssl_incomplete")) {
					return nil
				}
				return result(Neutral(), "Some results from the testssl scan could not be retrieved.")
			},
		},
		{
			Name:         t.key("scan_finished"),
			Title:        fmt.Sprintf("Check if the server offers %s", t.transport),
			RequiredKeys: keys(t.hasSSL()),
			Classify: func(k Keys) *CheckResult {
				if k.BoolOr(t.key("ssl_finished"), true) && !k.Bool(t.hasSSL()) {
					return result(Critical(), fmt.Sprintf("The server does not offer encrypted connections (%s).", t.transport))
				}
				return nil
			},
			OnMissing: always(result(Neutral().Devaluating(), "The testssl scan experienced a problem and had to be aborted, some checks were not performed.")),
		},
		{
			Name:         t.key("cert"),
			Title:        "Check whether common clients trust the certificate of the server",
			RequiredKeys: keys(t.hasSSL(), t.key("cert_trusted")),
			Classify: func(k Keys) *CheckResult {
				switch {
				case k.Bool(t.hasSSL()) && k.Bool(t.key("cert_trusted")):
					return result(Good(), "The presented server certificate could be validated.")
				case !k.Bool(t.hasSSL()):
					return result(Neutral(), fmt.Sprintf("Since the server could not be reached via %s, the check of the server certificate is skipped.", t.transport))
				default:
					return result(Critical(), "Server certificate could not be validated. Clients may fail to establish a secure connection to this server.",
						k.String(t.key("cert_trusted_reason")))
				}
			},
		},
		{
			Name:         t.key("certificate_not_expired"),
			Title:        "Check whether the certificate has expired",
			RequiredKeys: keys(t.key("certificate_not_expired"), t.hasSSL()),
			Classify: func(k Keys) *CheckResult {
				finding := k.String(t.key("certificate_not_expired_finding"))
				switch {
				case k.Bool(t.key("certificate_not_expired")):
					return result(Good(), "The certificate has not expired yet.", finding)
				case k.Bool(t.hasSSL()):
					return result(Critical(), "The certificate has expired.", finding)
				default:
					return t.skipped("certificate expiration")
				}
			},
		},
		flagCheck(t, "valid_san", "the subjectAltName field", Critical(),
			"The certificate contains a valid subjectAltName field.",
			"The certificate does not contain a valid subjectAltName field."),
		flagCheck(t, "strong_keysize", "certificate key size", Bad(),
			"The certificate uses a sufficiently large key size.",
			"The certificate does not use a sufficiently large key size."),
		flagCheck(t, "strong_sig_algorithm", "certificate signature algorithm", Bad(),
			"The certificate uses a strong signature algorithm.",
			"The certificate does not use a strong signature algorithm."),
		flagCheck(t, "either_crl_or_ocsp", "certificate revocation checking", Bad(),
			"The certificate contains the fields required for revocation checking (CRL or OCSP URI).",
			"The certificate does not contain the fields required for revocation checking (neither CRL nor OCSP URI)."),
		{
			Name:         t.key("ocsp_stapling"),
			Title:        "Check whether the server uses OCSP stapling",
			RequiredKeys: keys(t.key("ocsp_stapling"), t.key("offers_ocsp"), t.hasSSL()),
			Classify: func(k Keys) *CheckResult {
				severity := k.String(t.key("ocsp_stapling_severity"))
				switch {
				case k.Bool(t.key("offers_ocsp")) && k.Bool(t.key("ocsp_stapling")):
					return withFinding(result(Good(), "The server performs OCSP stapling."), severity, "")
				case k.Bool(t.key("offers_ocsp")):
					return withFinding(result(Bad(), "The server does not perform OCSP stapling."), severity, "")
				default:
					return result(Neutral(), fmt.Sprintf("Skipping check for OCSP stapling because the server does not offer %s or the certificate does not contain an OCSP URI.", t.transport))
				}
			},
		},
		{
			Name:         t.key("ocsp_must_staple"),
			Title:        "Check whether the certificate carries the OCSP must staple extension",
			RequiredKeys: keys(t.key("ocsp_must_staple"), t.key("offers_ocsp"), t.key("ocsp_stapling"), t.hasSSL()),
			Classify: func(k Keys) *CheckResult {
				severity := k.String(t.key("ocsp_must_staple_severity"))
				offers, stapling, must := k.Bool(t.key("offers_ocsp")), k.Bool(t.key("ocsp_stapling")), k.Bool(t.key("ocsp_must_staple"))
				switch {
				case offers && stapling && must:
					return withFinding(result(Good(), "The certificate contains the OCSP must staple extension and OCSP stapling is performed."), severity, "")
				case offers && !stapling && !must && severity == "HIGH":
					return withFinding(result(Critical(), "The server does not perform OCSP stapling although the certificate contains the must staple extension."), severity, "")
				case offers && stapling && !must:
					return withFinding(result(Bad(), "The server performs OCSP stapling. However, the certificate does not contain the must staple extension."), severity, "")
				default:
					return result(Neutral(), "Skipping check for the OCSP must staple extension because the server does not perform OCSP stapling or the certificate does not contain an OCSP URL.")
				}
			},
		},
		featureCheck(t, "pfs", "The server supports perfect forward secrecy.", "The server does not support perfect forward secrecy."),
		featureCheck(t, "session_ticket", "The server uses short-lived session tickets.", "The server does not use short-lived session tickets."),
		featureCheck(t, "caa_record", "The domain name contains a valid CAA record.", "The domain name does not contain a valid CAA record."),
		featureCheck(t, "certificate_transparency",
			"The server offers a certificate transparency mechanism as specified in RFC 6962.",
			"The server does not offer a certificate transparency mechanism as specified in RFC 6962."),
		insecureProtocol(t, "sslv2", "SSLv2"),
		insecureProtocol(t, "sslv3", "SSLv3"),
		versionedProtocol(t, "insecure", "tls1", "TLS 1.0", Neutral(), Good()),
		versionedProtocol(t, "insecure", "tls1_1", "TLS 1.1", Neutral(), Neutral()),
		versionedProtocol(t, "secure", "tls1_2", "TLS 1.2", Good(), Critical()),
		versionedProtocol(t, "secure", "tls1_3", "TLS 1.3", Good(), Neutral()),
		flagCheck(t, "default_protocol", "the default protocol", Bad(),
			"The server prefers a strong protocol.",
			"The server does not prefer a strong protocol."),
		flagCheck(t, "cipher_order", "a configured cipher order", Bad(),
			"The server has been configured with a cipher order.",
			"The server has not been configured with a cipher order."),
		flagCheck(t, "default_cipher", "the default cipher", Bad(),
			"The server prefers a strong cipher.",
			"The server does not prefer a strong cipher."),
	}

	for _, c := range cipherFamily {
		checks = append(checks, findingCheck(t, "ciphers", c))
	}
	for _, v := range vulnerabilityFamily {
		checks = append(checks, findingCheck(t, "vulnerabilities", v))
	}
	checks = append(checks, beastProtocolCheck(t))
	return checks
}

// flagCheck rates a boolean key that only makes sense when the server speaks TLS.
func flagCheck(t tlsTarget, name, what string, failure Rating, goodText, badText string) CheckDefinition {
	return CheckDefinition{
		Name:         t.key(name),
		Title:        fmt.Sprintf("Check %s", what),
		RequiredKeys: keys(t.key(name), t.hasSSL()),
		Classify: func(k Keys) *CheckResult {
			severity, finding := k.String(t.key(name+"_severity")), k.String(t.key(name+"_finding"))
			switch {
			case k.Bool(t.key(name)):
				return withFinding(result(Good(), goodText), severity, finding)
			case k.Bool(t.hasSSL()):
				return withFinding(result(failure, badText), severity, finding)
			default:
				return t.skipped(what)
			}
		},
	}
}

func featureCheck(t tlsTarget, name, goodText, badText string) CheckDefinition {
	return CheckDefinition{
		Name:         t.key(name),
		RequiredKeys: keys(t.key(name)),
		Classify: func(k Keys) *CheckResult {
			if k.Bool(t.key(name)) {
				return result(Good(), goodText)
			}
			return withFinding(result(Bad(), badText), k.String(t.key(name+"_severity")), k.String(t.key(name+"_finding")))
		},
	}
}

func insecureProtocol(t tlsTarget, proto, label string) CheckDefinition {
	key := t.key("has_protocol_" + proto)
	return CheckDefinition{
		Name:         t.key("insecure_protocols_" + proto),
		Title:        fmt.Sprintf("Check that insecure %s is not supported", label),
		RequiredKeys: keys(key, t.hasSSL()),
		Classify: func(k Keys) *CheckResult {
			switch {
			case !k.Bool(key):
				return result(Good(), fmt.Sprintf("The server does not support %s.", label))
			case k.Bool(t.hasSSL()):
				return withFinding(result(Bad(), fmt.Sprintf("The server supports %s.", label)), k.String(key+"_severity"), k.String(key+"_finding"))
			default:
				return t.skipped(fmt.Sprintf("the insecure %s protocol", label))
			}
		},
	}
}

// versionedProtocol rates TLS versions whose support is reported with a
// testssl severity. A missing severity counts as OK.
func versionedProtocol(t tlsTarget, kind, proto, label string, supported, unsupported Rating) CheckDefinition {
	key := t.key("has_protocol_" + proto)
	return CheckDefinition{
		Name:         t.key(kind + "_protocols_" + proto),
		Title:        fmt.Sprintf("Check support for %s", label),
		RequiredKeys: keys(key, t.hasSSL()),
		Classify: func(k Keys) *CheckResult {
			severity := k.StringOr(key+"_severity", "OK")
			harmless := Finding{Severity: severity}.Harmless()
			switch {
			case harmless && k.Bool(key):
				return result(supported, fmt.Sprintf("The server supports %s.", label))
			case harmless:
				return result(unsupported, fmt.Sprintf("The server does not support %s.", label))
			case k.Bool(t.hasSSL()):
				return withFinding(result(Bad(), fmt.Sprintf("There is a problem with the configuration of %s.", label)), severity, k.String(key+"_finding"))
			default:
				return t.skipped(fmt.Sprintf("the protocol %s", label))
			}
		},
	}
}

type findingRule struct {
	name     string
	id       string
	label    string
	goodText string
	badText  string
}

func vulnerability(name, id, label string) findingRule {
	return findingRule{
		name:     name,
		id:       id,
		label:    label,
		goodText: label + ": The server seems not to be vulnerable.",
		badText:  label + ": The server seems to be vulnerable.",
	}
}

var cipherFamily = []findingRule{
	{"null", "std_NULL", "NULL cipher",
		"NULL cipher: The server does not support this insecure cipher.",
		"NULL cipher: The server supports this insecure cipher."},
	{"anull", "std_aNULL", "anonymous NULL cipher",
		"Anonymous NULL cipher: The server does not support this insecure cipher.",
		"Anonymous NULL cipher: The server supports this insecure cipher."},
	{"export", "std_EXPORT", "export ciphers",
		"Export ciphers: The server does not support these insecure ciphers.",
		"Export ciphers: The server supports these insecure ciphers."},
	{"des_64bit", "std_DES+64Bit", "64 bit and DES ciphers",
		"64 bit and DES ciphers: The server does not support these insecure ciphers.",
		"64 bit and DES ciphers: The server supports these insecure ciphers."},
	{"128bit", "std_128Bit", "weak 128 bit ciphers",
		"Weak 128 bit ciphers: The server does not support insecure ciphers such as SEED, IDEA, RC2, and RC4.",
		"Weak 128 bit ciphers: The server supports insecure ciphers such as SEED, IDEA, RC2, and RC4."},
	{"3des", "std_3DES", "3DES cipher",
		"3DES cipher: The server does not support this outdated cipher.",
		"3DES cipher: The server supports this outdated cipher."},
	{"high", "std_HIGH", "modern ciphers without AEAD",
		"Modern ciphers: The server supports ciphers such as AES and Camellia (not offering authenticated encryption).",
		"Modern ciphers: The server does not support ciphers such as AES and Camellia (not offering authenticated encryption)."},
	{"strong", "std_STRONG", "strong ciphers with AEAD",
		"Strong ciphers: The server does support ciphers that offer authenticated encryption.",
		"Strong ciphers: The server does not support ciphers that offer authenticated encryption."},
}

var vulnerabilityFamily = []findingRule{
	{"rc4", "rc4", "RC4 cipher",
		"RC4: The server does not support this insecure cipher.",
		"RC4: The server supports this insecure cipher."},
	vulnerability("heartbleed", "heartbleed", "Heartbleed attack"),
	vulnerability("ccs", "ccs", "CCS attack"),
	vulnerability("ticketbleed", "ticketbleed", "Ticketbleed attack"),
	vulnerability("robot", "ROBOT", "ROBOT attack"),
	vulnerability("secure_renego", "secure_renego", "Secure re-negotiation"),
	vulnerability("secure_client_renego", "sec_client_renego", "Secure client re-negotiation"),
	vulnerability("crime", "crime", "CRIME attack"),
	vulnerability("breach", "breach", "BREACH attack"),
	vulnerability("poodle", "poodle_ssl", "POODLE attack"),
	{"fallback_scsv", "fallback_scsv", "TLS_FALLBACK_SCSV",
		"TLS_FALLBACK_SCSV: The server implements this downgrade attack prevention mechanism.",
		"TLS_FALLBACK_SCSV: The server does not implement this downgrade attack prevention mechanism."},
	vulnerability("sweet32", "sweet32", "SWEET32 attack"),
	vulnerability("freak", "freak", "FREAK attack"),
	vulnerability("drown", "drown", "DROWN attack"),
	vulnerability("logjam", "logjam", "LOGJAM attack"),
	{"logjam_common_primes", "LOGJAM_common primes", "LOGJAM common primes",
		"LOGJAM common primes: The server does not use a common prime number.",
		"LOGJAM common primes: The server uses a common prime number."},
	vulnerability("beast", "beast", "BEAST attack"),
	vulnerability("lucky13", "lucky13", "LUCKY13 attack"),
}

// findingCheck rates one entry of the <prefix>_ciphers or
// <prefix>_vulnerabilities map.
func findingCheck(t tlsTarget, family string, rule findingRule) CheckDefinition {
	mapKey := t.key(family)
	name := t.key(family + "_" + rule.name)
	if family == "vulnerabilities" {
		name = t.key("vuln_" + rule.name)
	}
	return CheckDefinition{
		Name:         name,
		RequiredKeys: keys(mapKey, t.hasSSL()),
		Classify: func(k Keys) *CheckResult {
			f, ok := k.Finding(mapKey, rule.id)
			switch {
			case ok && f.Harmless():
				return result(Good(), rule.goodText)
			case ok:
				return withFinding(result(Bad(), rule.badText), f.Severity, f.Finding)
			case k.Bool(t.hasSSL()):
				return result(Neutral(), fmt.Sprintf("The check for %s did not return a result.", rule.label))
			default:
				return t.skipped(rule.label)
			}
		},
	}
}

func beastProtocolCheck(t tlsTarget) CheckDefinition {
	mapKey := t.key("vulnerabilities")
	return CheckDefinition{
		Name:         t.key("vuln_beast_proto"),
		RequiredKeys: keys(mapKey, t.hasSSL()),
		Classify: func(k Keys) *CheckResult {
			ssl3, okSSL3 := k.Finding(mapKey, "cbc_ssl3")
			tls1, okTLS1 := k.Finding(mapKey, "cbc_tls1")
			switch {
			case okSSL3 && okTLS1 && ssl3.Harmless() && tls1.Harmless():
				return result(Good(), "BEAST attack: The server does not support CBC ciphers with the SSL 3.0 and TLS 1.0 protocols.")
			case okSSL3 || okTLS1:
				return withFinding(result(Bad(), "BEAST attack: The server supports CBC ciphers with the SSL 3.0 or TLS 1.0 protocol."),
					strings.TrimSpace(ssl3.Severity+" "+tls1.Severity), strings.TrimSpace(ssl3.Finding+" "+tls1.Finding))
			case k.Bool(t.hasSSL()):
				return result(Neutral(), "The check for CBC ciphers in the SSL 3.0 and TLS 1.0 protocols (BEAST attack) did not return a result.")
			default:
				return t.skipped("CBC ciphers in the SSL 3.0 and TLS 1.0 protocols")
			}
		},
	}
}
