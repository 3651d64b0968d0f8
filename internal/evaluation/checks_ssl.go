package evaluation

import "strings"

func sslChecks() []CheckDefinition {
	checks := []CheckDefinition{
		{
			Name:         "no_https_by_default_but_same_content_via_https",
			Title:        "Check whether the given HTTP URL is also reachable via HTTPS",
			RequiredKeys: keys("final_url", "final_https_url", "same_content_via_https"),
			Classify: func(k Keys) *CheckResult {
				finalURL, httpsURL := k.String("final_url"), k.String("final_https_url")
				httpsOffered := strings.HasPrefix(httpsURL, "https")
				switch {
				case !strings.HasPrefix(finalURL, "https") && httpsOffered && k.Bool("same_content_via_https"):
					return result(Good(), "The site does not use HTTPS by default but it makes available the same content via HTTPS upon request.")
				case !strings.HasPrefix(finalURL, "https") && httpsOffered:
					return result(Critical(), "The web server does not support HTTPS by default. It hosts an HTTPS site, but it does not serve the same content over HTTPS that is offered via HTTP.")
				case strings.HasPrefix(finalURL, "https:"):
					return result(Neutral().Informational(), "Not comparing the HTTP version with the HTTPS version of the site because the HTTPS URL of this site was entered.")
				default:
					return nil
				}
			},
		},
		{
			Name:         "site_redirects_to_https",
			Title:        "Check for automatic redirection to HTTPS",
			RequiredKeys: keys("redirected_to_https", "https", "final_https_url", "web_has_ssl", "web_cert_trusted", "initial_url", "success"),
			Classify: func(k Keys) *CheckResult {
				switch {
				case !k.Bool("success"):
					return result(Neutral(), "Since the browser scan failed, we cannot check whether the website automatically redirects visitors to the HTTPS version.")
				case k.Bool("redirected_to_https"):
					return result(Good(), "The website redirects visitors to a secure HTTPS URL if the HTTP URL is visited.")
				case strings.HasPrefix(k.String("initial_url"), "https"):
					return result(Neutral(), "Not checking if website automatically redirects to HTTPS version because the HTTPS URL of this site was entered.")
				case k.Bool("web_has_ssl") && k.Bool("web_cert_trusted"):
					return result(Critical(), "The website does not redirect visitors to secure HTTPS URL, even though the site is also available via HTTPS.")
				default:
					return result(Neutral(), "Skipping check for redirection to HTTPS because the web server does not offer a well-configured HTTPS.")
				}
			},
			OnMissing: always(result(Neutral(), "No functional HTTPS version found, so not checking for automated forwarding to HTTPS.")),
		},
		{
			Name:         "redirects_from_https_to_http",
			Title:        "Check if the server prevents users from using the HTTPS version of the website",
			RequiredKeys: keys("final_https_url", "web_has_ssl"),
			Classify: func(k Keys) *CheckResult {
				switch {
				case strings.HasPrefix(k.String("final_https_url"), "http:"):
					return result(Critical(), "The web server redirects to an insecure HTTP URL if content is requested via HTTPS.")
				case !k.Bool("web_has_ssl"):
					return result(Neutral(), "Since the server is not reachable via HTTPS, the check for HTTPS to HTTP redirection is skipped.")
				default:
					return result(Good(), "The web server does not redirect to an insecure HTTP URL if content is requested via HTTPS.")
				}
			},
		},
		{
			Name:         "mixed_content",
			Title:        "Check for mixed content",
			RequiredKeys: keys("final_url", "mixed_content"),
			Classify: func(k Keys) *CheckResult {
				https := strings.HasPrefix(k.String("final_url"), "https")
				switch {
				case https && k.Bool("mixed_content"):
					n := k.Len("mixed_content_urls")
					if n == 0 {
						n = 1
					}
					return result(Bad(), sprintf(msgMixedContent, n), k.Strings("mixed_content_urls")...)
				case https:
					return result(Good(), "The site uses HTTPS and all objects are retrieved via HTTPS (no mixed content).")
				default:
					return result(Neutral(), "Since the site could not be reached via HTTPS, mixed content checks are skipped.")
				}
			},
		},
	}

	checks = append(checks, tlsChecks(webTarget)...)
	checks = append(checks, hstsChecks()...)
	return checks
}

func hstsChecks() []CheckDefinition {
	hstsKeys := keys("web_has_hsts_preload_header", "web_has_hsts_header", "web_has_hsts_preload", "web_has_ssl")
	usesHSTS := func(k Keys) bool { return k.Bool("web_has_hsts_header") || k.Bool("web_has_hsts_preload") }
	noHTTPS := func(what string) *CheckResult {
		return webTarget.skipped(what)
	}

	return []CheckDefinition{
		{
			Name:         "web_hsts_header",
			Title:        "Check for HSTS",
			RequiredKeys: hstsKeys,
			Classify: func(k Keys) *CheckResult {
				switch {
				case !k.Bool("web_has_ssl"):
					return noHTTPS("HSTS support")
				case usesHSTS(k):
					return result(Good(), "The server uses HSTS to prevent insecure requests.")
				default:
					return result(Bad(), "The site does not use HSTS to prevent insecure requests.")
				}
			},
		},
		{
			Name:         "web_hsts_header_duration",
			Title:        "Check for a sufficient HSTS max-age",
			RequiredKeys: keys("web_has_hsts_preload_header", "web_has_hsts_header", "web_has_hsts_header_sufficient_time", "web_has_ssl"),
			Classify: func(k Keys) *CheckResult {
				switch {
				case !k.Bool("web_has_ssl"):
					return nil
				case !usesHSTS(k):
					return result(Neutral(), "Since the server does not implement HSTS, the check of the HSTS max-age field is skipped.")
				case k.Bool("web_has_hsts_header_sufficient_time"):
					return result(Good(), "The site uses HSTS with a sufficiently large max-age value.")
				default:
					return result(Bad(), "The HSTS header contains a max-age value, which is too small.")
				}
			},
		},
		{
			Name:         "web_hsts_preload_prepared",
			Title:        "Check for HSTS preloading preparations",
			RequiredKeys: hstsKeys,
			Classify: func(k Keys) *CheckResult {
				switch {
				case !k.Bool("web_has_ssl"):
					return noHTTPS("HSTS preloading support")
				case k.Bool("web_has_hsts_preload") || k.Bool("web_has_hsts_preload_header"):
					return result(Good(), "The site has been prepared for HSTS preloading.")
				case k.Bool("web_has_hsts_header"):
					return result(Bad(), "The site has not been prepared for HSTS preloading.")
				default:
					return result(Neutral(), "Skipping check for HSTS preloading because the website does not use HSTS.")
				}
			},
		},
		{
			Name:         "web_hsts_preload_listed",
			Title:        "Check for inclusion in the HSTS preload list",
			RequiredKeys: hstsKeys,
			Classify: func(k Keys) *CheckResult {
				switch {
				case !k.Bool("web_has_ssl"):
					return noHTTPS("inclusion in HSTS preloading lists")
				case k.Bool("web_has_hsts_preload"):
					return result(Good(), "The website is contained in the HSTS preload list.")
				case k.Bool("web_has_hsts_preload_header"):
					return result(Bad(), "The site has been prepared for HSTS preloading, but its URL is not in the preloading list yet.")
				case k.Bool("web_has_hsts_header"):
					return result(Neutral(), "Since the site has not been prepared for HSTS preloading, the check for inclusion in HSTS preloading lists is skipped.")
				default:
					return result(Neutral(), "Since the site does not offer HSTS, the check for inclusion in HSTS preloading lists is skipped.")
				}
			},
		},
		{
			Name:         "web_has_hpkp_header",
			Title:        "Check for HTTP Public Key Pinning",
			RequiredKeys: keys("web_has_hpkp_header", "web_has_ssl"),
			Classify: func(k Keys) *CheckResult {
				switch {
				case k.Bool("web_has_hpkp_header"):
					return result(Neutral().Informational(), "The site uses Public Key Pinning to prevent attackers from using invalid certificates.")
				case k.Bool("web_has_ssl"):
					return result(Neutral().Informational(), "The site is not using Public Key Pinning to prevent attackers from using invalid certificates.")
				default:
					return result(Neutral().Informational(), "Skipping check for HPKP support because the server does not offer HTTPS.")
				}
			},
		},
	}
}
