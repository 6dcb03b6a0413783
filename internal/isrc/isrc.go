// Package isrc cleans and validates International Standard Recording Codes.
package isrc

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
)

// 2-letter country, 3 alphanumeric registrant, 2-digit year, 5-digit designation.
var pattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}[0-9]{7}$`)

// Clean upper-cases the code and strips hyphens and whitespace.
func Clean(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(code)))
}

// Valid reports whether an already-cleaned code matches the ISRC layout.
func Valid(code string) bool {
	return pattern.MatchString(code)
}

// Normalize cleans and validates code, returning ErrInvalidFormat on mismatch.
func Normalize(code string) (string, error) {
	cleaned := Clean(code)
	if !Valid(cleaned) {
		return "", apperrors.Wrap(apperrors.ErrInvalidFormat, "isrc", "validate", "expected CC-XXX-YY-NNNNN, got "+strconv.Quote(code), nil)
	}
	return cleaned, nil
}
