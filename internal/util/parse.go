package util

import "strings"

// ParseBool accepts true/1/yes/on and false/0/no/off, case-insensitively. The second result
// is false when the value is not recognised.
func ParseBool(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}
