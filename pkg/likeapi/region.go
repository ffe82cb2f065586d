package likeapi

import "strings"

// DefaultRegion is the API region used when an alias is not recognized.
const DefaultRegion = "ag"

var regionAliases = map[string]string{
	"BD":         "ag",
	"BANGLADESH": "ag",
	"AG":         "ag",
	"IND":        "ind",
	"INDIA":      "ind",
	"BR":         "nx",
	"BRAZIL":     "nx",
	"US":         "nx",
	"USA":        "nx",
	"NX":         "nx",
}

// InputRegions are the codes users may type after /like.
var InputRegions = []string{"BD", "IND", "BR", "US", "AG", "NX"}

// NormalizeRegion maps a user supplied region to the API code.
func NormalizeRegion(input string) string {
	if code, ok := regionAliases[strings.ToUpper(strings.TrimSpace(input))]; ok {
		return code
	}
	return DefaultRegion
}

func ValidRegion(input string) bool {
	input = strings.ToUpper(strings.TrimSpace(input))
	for _, r := range InputRegions {
		if r == input {
			return true
		}
	}
	return false
}

// ValidUID accepts a non-empty run of at most 20 digits.
func ValidUID(uid string) bool {
	if uid == "" || len(uid) > 20 {
		return false
	}
	for _, c := range uid {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
