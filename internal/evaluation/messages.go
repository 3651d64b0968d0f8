package evaluation

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	msgThirdParties = "The site is using %d third party servers."
	msgTrackers     = "The site includes content from %d well-known tracking or advertising companies."
	msgLeaks        = "The site seems to disclose internal system information at %d common locations."
	msgMixedContent = "The site uses HTTPS, but %d objects are retrieved via HTTP (mixed content)."
)

func init() {
	set := func(key string, one, other string) {
		_ = message.Set(language.English, key, plural.Selectf(1, "%d", "=1", one, "other", other))
	}
	set(msgThirdParties,
		"The site is using one third party server.",
		"The site is using %[1]d third party servers.")
	set(msgTrackers,
		"The site includes content from one well-known tracking or advertising company.",
		"The site includes content from %[1]d well-known tracking or advertising companies.")
	set(msgLeaks,
		"The site seems to disclose internal system information at one common location.",
		"The site seems to disclose internal system information at %[1]d common locations.")
	set(msgMixedContent,
		"The site uses HTTPS, but one object is retrieved via HTTP (mixed content).",
		"The site uses HTTPS, but %[1]d objects are retrieved via HTTP (mixed content).")
}

var printer = message.NewPrinter(language.English)

func sprintf(key string, args ...interface{}) string {
	return printer.Sprintf(key, args...)
}
