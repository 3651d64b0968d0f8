package evaluation

import "fmt"

func privacyChecks() []CheckDefinition {
	return []CheckDefinition{
		{
			Name:         "openwpm_scan_failed",
			Title:        "Check if the browser scan succeeded",
			RequiredKeys: keys("success"),
			Classify: func(k Keys) *CheckResult {
				if k.Bool("success") {
					return nil
				}
				return result(Neutral().Devaluating(),
					"The browser scan failed: It timed out. Some results are missing, some may be inaccurate.")
			},
			OnMissing: always(result(Neutral().Devaluating(),
				"The browser scan failed: It returned no result. Some results are missing, some may be inaccurate.")),
		},
		{
			Name:         "third_parties",
			Title:        "Check for content from third-party servers",
			RequiredKeys: keys("third_parties_count"),
			Classify: func(k Keys) *CheckResult {
				count := k.Int("third_parties_count")
				if count == 0 {
					return result(Good(), "The site does not include content from third-party servers.")
				}
				return result(Bad(), sprintf(msgThirdParties, count), k.Strings("third_parties")...)
			},
		},
		{
			Name:         "third_party-trackers",
			Title:        "Check for known trackers",
			RequiredKeys: keys("tracker_requests"),
			Classify: func(k Keys) *CheckResult {
				trackers := k.Strings("tracker_requests")
				if len(trackers) == 0 {
					return result(Good(), "The site does not include content from any well-known tracking or advertising companies.")
				}
				return result(Bad(), sprintf(msgTrackers, len(trackers)), trackers...)
			},
		},
		{
			Name:         "cookies_1st_party",
			Title:        "Count first-party cookies",
			RequiredKeys: keys("cookie_stats"),
			Classify: func(k Keys) *CheckResult {
				stats := NewKeys(k.Map("cookie_stats"))
				short, long := stats.Int("first_party_short"), stats.Int("first_party_long")
				if short == 0 && long == 0 {
					return result(Good(), "The website itself is not setting any cookies.")
				}
				return result(Neutral(), fmt.Sprintf("The website itself is setting %d short-term and %d long-term cookies.", short, long))
			},
		},
		{
			Name:         "cookies_3rd_party",
			Title:        "Count third-party cookies",
			RequiredKeys: keys("cookie_stats"),
			Classify: func(k Keys) *CheckResult {
				stats := NewKeys(k.Map("cookie_stats"))
				short, long := stats.Int("third_party_short"), stats.Int("third_party_long")
				if short == 0 && long == 0 {
					return result(Good(), "Third-party servers are not setting any cookies.")
				}
				return result(Bad(), fmt.Sprintf(
					"Third-party servers are setting %d short-term and %d long-term cookies. %d of these cookies are set by %d well-known tracking or advertising companies.",
					short, long, stats.Int("third_party_track"), stats.Int("third_party_track_uniq")),
					stats.Strings("third_party_track_domains")...)
			},
		},
		{
			Name:         "google_analytics_present",
			Title:        "Check if Google Analytics is being used",
			RequiredKeys: keys("google_analytics_present"),
			Classify: func(k Keys) *CheckResult {
				if k.Bool("google_analytics_present") {
					return result(Bad(), "The site uses Google Analytics.")
				}
				return result(Good(), "The site does not use Google Analytics.")
			},
		},
		{
			Name:         "google_analytics_anonymizeIP_not_set",
			Title:        "Check if Google Analytics is configured for privacy protection",
			RequiredKeys: keys("google_analytics_anonymizeIP_not_set", "google_analytics_present"),
			Classify: func(k Keys) *CheckResult {
				switch {
				case !k.Bool("google_analytics_present"):
					return result(Neutral(), "Since the site does not use Google Analytics, the check for the anonymizeIP privacy mechanism of Google Analytics was skipped.")
				case k.Bool("google_analytics_anonymizeIP_not_set"):
					return result(Bad(), "At least one of the tracking requests sent to Google Analytics did not carry the anonymizeIP (aip) flag.")
				default:
					return result(Good(), "The site instructs Google to store only anonymized IPs.")
				}
			},
		},
		{
			Name:         "webserver_locations",
			Title:        "Check whether web server is located in EU",
			RequiredKeys: keys("a_locations"),
			Classify: func(k Keys) *CheckResult {
				return describeLocations("web servers", k.Strings("a_locations"))
			},
		},
		{
			Name:         "mailserver_locations",
			Title:        "Check whether mail server is located in EU",
			RequiredKeys: keys("mx_locations"),
			Classify: func(k Keys) *CheckResult {
				return describeLocations("mail servers", k.Strings("mx_locations"))
			},
		},
		{
			Name:         "server_locations",
			Title:        "Check whether web and mail servers are located in the same country",
			RequiredKeys: keys("a_locations", "mx_locations"),
			Classify: func(k Keys) *CheckResult {
				web, mail := k.Strings("a_locations"), k.Strings("mx_locations")
				switch {
				case len(web) > 0 && len(mail) > 0 && !sameCountries(web, mail):
					return result(Bad(), "The geo-location(s) of the web server(s) and the mail server(s) are not in the same country.")
				case len(mail) > 0:
					return result(Good(), "The geo-location(s) of the web server(s) and the mail server(s) are in the same country.")
				default:
					return result(Neutral(), "Since there is no mail server, the check whether web and mail servers are in the same country is skipped.")
				}
			},
		},
	}
}
