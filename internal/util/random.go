// Package util provides ID generation and environment parsing helpers for CadencePipe.
package util

import (
	"math/rand/v2"
	"strings"
)

// ID prefixes used across the store.
const (
	ActionIDPrefix   = "act_"
	SessionIDPrefix  = "ses_"
	OutcomeIDPrefix  = "out_"
	ActivityIDPrefix = "evt_"
)

// idHexLength is the number of hex characters following an ID prefix.
const idHexLength = 32

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateActionID generates a unique action ID with "act_" prefix.
func GenerateActionID() string {
	return GenerateRandomID(ActionIDPrefix, idHexLength)
}

// GenerateSessionID generates a unique booked-session ID with "ses_" prefix.
func GenerateSessionID() string {
	return GenerateRandomID(SessionIDPrefix, idHexLength)
}

// GenerateOutcomeID generates a unique outcome ID with "out_" prefix.
func GenerateOutcomeID() string {
	return GenerateRandomID(OutcomeIDPrefix, idHexLength)
}

// GenerateActivityID generates a unique activity record ID with "evt_" prefix.
func GenerateActivityID() string {
	return GenerateRandomID(ActivityIDPrefix, idHexLength)
}
