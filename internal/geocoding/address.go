package geocoding

import (
	"regexp"
	"strings"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
)

// DefaultCountry is appended to addresses that do not already name it.
const DefaultCountry = "Italy"

var (
	localityPrefix = regexp.MustCompile(`(?i)^(FRAZIONE|FRAZ\.?|FR\.?|REGIONE|REG\.?|LOCALIT(?:A|À)['’]?|LOC\.?|BORGATA|STRADA|STR\.?)\s+`)
	countryAliases = []string{"italy", "italia"}
)

// BuildAddress joins the template fields present in data. The first part loses its locality
// prefixes and the country is appended unless the address already names it.
func BuildAddress(data map[string]any, template Template, country string) string {
	parts := make([]string, 0, len(template.Fields))
	for _, field := range template.Fields {
		text, ok := contacts.TextValue(data[field])
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len(parts) == 0 {
			text = stripLocalityPrefixes(text)
			if text == "" {
				continue
			}
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return ""
	}

	address := strings.Join(parts, template.JoinWith())
	country = strings.TrimSpace(country)
	if country == "" || mentionsCountry(address, country) {
		return address
	}
	return address + ", " + country
}

// stripLocalityPrefixes removes stacked prefixes such as "FRAZIONE LOCALITA' ".
func stripLocalityPrefixes(text string) string {
	for {
		stripped := strings.TrimSpace(localityPrefix.ReplaceAllString(text, ""))
		if stripped == text {
			return text
		}
		text = stripped
	}
}

func mentionsCountry(address, country string) bool {
	lowered := strings.ToLower(address)
	if strings.Contains(lowered, strings.ToLower(country)) {
		return true
	}
	for _, alias := range countryAliases {
		if strings.Contains(lowered, alias) {
			return true
		}
	}
	return false
}
