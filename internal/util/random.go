// Package util provides utility functions for the TrialRelay application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; not for cryptographic purposes.
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

// GenerateReminderID generates a unique reminder ID with "rem_" prefix.
func GenerateReminderID() string {
	return GenerateRandomID("rem_", 32)
}

// GenerateParticipantID generates a unique participant ID with "p_" prefix.
func GenerateParticipantID() string {
	return GenerateRandomID("p_", 32)
}
