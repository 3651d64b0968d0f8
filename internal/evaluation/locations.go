package evaluation

import (
	"fmt"
	"strings"
)

var euStates = map[string]bool{
	"Austria":        true,
	"Belgium":        true,
	"Bulgaria":       true,
	"Croatia":        true,
	"Cyprus":         true,
	"Czech Republic": true,
	"Czechia":        true,
	"Denmark":        true,
	"Estonia":        true,
	// GeoIP reports some EU institutions under "Europe".
	"Europe":         true,
	"Finland":        true,
	"France":         true,
	"Germany":        true,
	"Greece":         true,
	"Hungary":        true,
	"Ireland":        true,
	"Italy":          true,
	"Latvia":         true,
	"Lithuania":      true,
	"Luxembourg":     true,
	"Malta":          true,
	"Netherlands":    true,
	"Poland":         true,
	"Portugal":       true,
	"Romania":        true,
	"Slovakia":       true,
	"Slovenia":       true,
	"Spain":          true,
	"Sweden":         true,
	"United Kingdom": true,
}

func IsEUState(country string) bool { return euStates[country] }

func describeLocations(serverType string, locations []string) *CheckResult {
	var known []string
	for _, loc := range locations {
		if loc != "" {
			known = append(known, loc)
		}
	}
	if len(known) == 0 {
		return result(Neutral().Informational(),
			fmt.Sprintf("The locations of the %s could not be detected.", serverType))
	}

	rating := Good()
	for _, country := range known {
		if !IsEUState(country) {
			rating = Bad()
		}
	}
	if len(known) == 1 {
		return result(rating, fmt.Sprintf("All %s are located in %s.", serverType, known[0]))
	}
	countries := strings.Join(known[:len(known)-1], ", ") + " and " + known[len(known)-1]
	return result(rating, fmt.Sprintf("The %s are located in %s.", serverType, countries), known...)
}

func sameCountries(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	other := make(map[string]bool, len(b))
	for _, s := range b {
		if !set[s] {
			return false
		}
		other[s] = true
	}
	return len(other) == len(set)
}
