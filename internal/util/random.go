// Package util provides small helpers shared across MeditationVisual components.
package util

import (
	"math/rand/v2"
	"strings"
)

// SessionIDPrefix marks flow session identifiers.
const SessionIDPrefix = "s_"

// GenerateRandomID returns "{prefix}{hex}" with hexLength random hex digits.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// The global math/rand/v2 source is seeded from the OS, so IDs are not predictable across runs.
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

// GenerateSessionID generates a flow session ID with the "s_" prefix.
func GenerateSessionID() string {
	return GenerateRandomID(SessionIDPrefix, 32)
}
