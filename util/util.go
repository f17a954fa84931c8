// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// GetBit returns the value of a given bit in a 16-bit word
func GetBit(w uint16, bitIndex uint) bool {
	return (w>>bitIndex)&1 == 1
}

// SetBit sets the bit at index bitIndex of w to value
func SetBit(w uint16, bitIndex uint, value bool) uint16 {
	if value {
		return w | (1 << bitIndex)
	}
	return w &^ (1 << bitIndex)
}

// SecsToDuration converts a float64 number of seconds to a time.Duration
// negative and NaN values produce zero
func SecsToDuration(secs float64) time.Duration {
	if secs <= 0 || math.IsNaN(secs) {
		return 0
	}
	return time.Duration(math.Round(secs * 1e9))
}

// DurationToSecs is the inverse of SecsToDuration
func DurationToSecs(d time.Duration) float64 {
	return d.Seconds()
}
