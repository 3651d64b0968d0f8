package evaluation

func mxChecks() []CheckDefinition {
	checks := []CheckDefinition{
		{
			Name:         "has_mx",
			Title:        "Check if the domain has a mail server",
			RequiredKeys: keys("mx_records"),
			Classify: func(k Keys) *CheckResult {
				if k.Len("mx_records") > 0 {
					return nil
				}
				return result(Neutral().Devaluating(), "Since there is no mail server available for this site, all checks in this category are skipped.")
			},
		},
	}
	return append(checks, tlsChecks(mailTarget)...)
}
