package network

import (
	"fmt"
	"net"
	"sort"

	"github.com/oschwald/geoip2-golang"
)

// Locator maps an IP address to a country name, or "" when unknown.
type Locator interface {
	Country(ip string) string
}

type GeoIPLocator struct {
	reader *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPLocator{reader: reader}, nil
}

// Country falls back to the continent for addresses without a country.
func (l *GeoIPLocator) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := l.reader.Country(parsed)
	if err != nil {
		return ""
	}
	if name := record.Country.Names["en"]; name != "" {
		return name
	}
	return record.Continent.Names["en"]
}

func (l *GeoIPLocator) Close() error { return l.reader.Close() }

// countries returns the distinct known countries of addresses.
func countries(locator Locator, addresses []string) []string {
	out := []string{}
	if locator == nil {
		return out
	}
	seen := make(map[string]bool)
	for _, ip := range addresses {
		country := locator.Country(ip)
		if country == "" || seen[country] {
			continue
		}
		seen[country] = true
		out = append(out, country)
	}
	sort.Strings(out)
	return out
}
