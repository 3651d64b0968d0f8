package evaluation

import "fmt"

type headerCheck struct {
	name   string
	header string
	label  string
}

var securityHeaders = []headerCheck{
	{"header_csp", "content-security-policy", "Content-Security-Policy (CSP)"},
	{"header_xfo", "x-frame-options", "X-Frame-Options (XFO)"},
	{"header_xssp", "x-xss-protection", "X-XSS-Protection"},
	{"header_xcto", "x-content-type-options", "X-Content-Type-Options"},
	{"header_ref", "referrer-policy", "Referrer-Policy"},
}

func securityChecks() []CheckDefinition {
	checks := []CheckDefinition{
		{
			Name:         "leaks",
			Title:        "Check for unintentional information leaks",
			RequiredKeys: keys("leaks", "reachable", "success"),
			Classify: func(k Keys) *CheckResult {
				leaks := k.Strings("leaks")
				switch {
				case !k.Bool("reachable") || !k.Bool("success"):
					return result(Neutral(), "Since the site was unreachable or the browser scan failed, the serverleaks check is skipped.")
				case len(leaks) == 0:
					return result(Good(), "The site does not disclose internal system information at common locations.")
				default:
					return result(Bad(), sprintf(msgLeaks, len(leaks)), leaks...)
				}
			},
			OnMissing: always(result(Neutral(), "The serverleaks scan failed or timed out.")),
		},
	}
	for _, h := range securityHeaders {
		checks = append(checks, headerDefinition(h))
	}
	checks = append(checks, CheckDefinition{
		Name:         "webapp_outdated",
		Title:        "Check whether the web application is up to date",
		RequiredKeys: keys("webapp_generator", "webapp_outdated"),
		Classify: func(k Keys) *CheckResult {
			generator := k.String("webapp_generator")
			if generator == "" {
				return nil
			}
			version := k.StringOr("webapp_version", "unknown")
			switch {
			case k.Bool("webapp_outdated"):
				return result(Bad(), fmt.Sprintf("The site runs an outdated version of %s (%s).", generator, version), k.String("webapp_latest_version"))
			case k.String("webapp_version") == "":
				return result(Neutral().Informational(), fmt.Sprintf("The site runs %s, but its version could not be determined.", generator))
			default:
				return result(Good(), fmt.Sprintf("The site runs an up-to-date version of %s (%s).", generator, version))
			}
		},
	})
	return checks
}

func headerDefinition(h headerCheck) CheckDefinition {
	return CheckDefinition{
		Name:         h.name,
		Title:        fmt.Sprintf("Check for presence of %s", h.label),
		RequiredKeys: keys("headerchecks"),
		Classify: func(k Keys) *CheckResult {
			entry := NewKeys(toMap(k.Map("headerchecks")[h.header]))
			if entry.Has("status") && entry.String("status") != "MISSING" {
				return result(Good(), fmt.Sprintf("The site sets a %s header.", h.label))
			}
			return result(Bad(), fmt.Sprintf("The site does not set a %s header.", h.label))
		},
	}
}
