// Package matcher decides whether two providers describe the same recording
// field. Titles are compared after folding away case, compatibility forms and
// a trailing qualifier such as "(Remastered 2011)".
package matcher

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/text/unicode/norm"
)

const (
	// Threshold is the Jaro-Winkler similarity at which two strings agree.
	Threshold = 0.85

	// DurationToleranceMS is how far apart two durations may be and still agree.
	DurationToleranceMS = 3000
)

// Clean lower-cases s, applies NFKC and strips trailing bracketed qualifiers.
func Clean(s string) string {
	s = strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
	for {
		trimmed := strings.TrimSpace(s)
		if !strings.HasSuffix(trimmed, ")") && !strings.HasSuffix(trimmed, "]") {
			return strings.Join(strings.Fields(trimmed), " ")
		}
		idx := strings.LastIndexAny(trimmed, "([")
		if idx <= 0 {
			return strings.Join(strings.Fields(trimmed), " ")
		}
		s = trimmed[:idx]
	}
}

// Similarity is the Jaro-Winkler similarity of the cleaned strings.
func Similarity(a, b string) float64 {
	ca, cb := Clean(a), Clean(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}
	return strutil.Similarity(ca, cb, metrics.NewJaroWinkler())
}

// Agree reports whether two strings name the same thing.
func Agree(a, b string) bool {
	return Similarity(a, b) >= Threshold
}

// DurationsAgree reports whether two millisecond durations are within tolerance.
func DurationsAgree(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= DurationToleranceMS
}
