// Package redact masks secret values before they reach log output.
package redact

import (
	"math"
	"strings"
)

// String keeps roughly the first and last quarter of s and replaces the
// middle with asterisks. Short values still leak nothing useful.
func String(s string) string {
	l := len(s)

	var flag int
	if l%4 != 0 {
		flag = 1
	}

	return s[0:int(math.Floor(float64(l)*.25))] +
		strings.Repeat("*", int(math.RoundToEven(float64(l)*.5))+(1&flag)) +
		s[int(math.Floor(float64(l)*.75))+(1&flag):]
}
