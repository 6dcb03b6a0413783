// Package normalize holds the unit and range conversions shared by the
// per-provider normalizers. Every helper reports ok=false instead of inventing a
// default so the merge step can fall back to another source.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

const (
	minDurationMS = int64(time.Second / time.Millisecond)
	maxDurationMS = int64(6 * time.Hour / time.Millisecond)

	maxTempo = 300.0

	// unit-range values this close to a bound are clamped instead of dropped
	unitTolerance = 1e-6
)

var (
	spaceRegex       = regexp.MustCompile(`\s+`)
	isoDurationRegex = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)
	folder           = cases.Fold()
)

// Text trims and collapses internal whitespace.
func Text(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

// DurationMS validates a millisecond duration.
func DurationMS(ms int64) (int64, bool) {
	if ms < minDurationMS || ms > maxDurationMS {
		return 0, false
	}
	return ms, true
}

// FromDuration converts a time.Duration into validated milliseconds.
func FromDuration(d time.Duration) (int64, bool) {
	return DurationMS(d.Milliseconds())
}

// ClockDuration parses "m:ss" or "h:mm:ss".
func ClockDuration(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		if i > 0 && n >= 60 {
			return 0, false
		}
		total = total*60 + n
	}
	return DurationMS(int64(total) * 1000)
}

// ISODuration parses ISO-8601 durations such as "PT3M45S".
func ISODuration(raw string) (int64, bool) {
	m := isoDurationRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(raw)))
	if m == nil || raw == "" {
		return 0, false
	}
	var total float64
	units := []float64{86400, 3600, 60, 1}
	matched := false
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, false
		}
		matched = true
		total += v * unit
	}
	if !matched {
		return 0, false
	}
	return DurationMS(int64(math.Round(total * 1000)))
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02 Jan 2006, 15:04",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ReleaseDate converts provider dates to ISO-8601 keeping the precision the
// provider had: "2004", "2004-05" or "2004-05-17". Zero month/day parts such as
// Discogs' "1999-03-00" reduce precision.
func ReleaseDate(raw string) (string, bool) {
	raw = Text(raw)
	if raw == "" {
		return "", false
	}
	if out, ok := partialISODate(raw); ok {
		return out, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(time.DateOnly), true
		}
	}
	return "", false
}

func partialISODate(raw string) (string, bool) {
	parts := strings.Split(raw, "-")
	if len(parts) > 3 || len(parts[0]) != 4 {
		return "", false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1860 || year > 2100 {
		return "", false
	}
	if len(parts) == 1 || parts[1] == "00" {
		return parts[0], true
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || month < 1 || month > 12 {
		return "", false
	}
	if len(parts) == 2 || parts[2] == "00" {
		return parts[0] + "-" + parts[1], true
	}
	if len(parts[2]) != 2 {
		return "", false
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return "", false
	}
	return t.Format(time.DateOnly), true
}

// UnitInterval validates values documented to live in [0,1].
func UnitInterval(v float64) (*float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	switch {
	case v < -unitTolerance || v > 1+unitTolerance:
		return nil, false
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return &v, true
}

// PitchClass validates a key in 0..11; providers use -1 for "no key detected".
func PitchClass(k int) (*int, bool) {
	if k < 0 || k > 11 {
		return nil, false
	}
	return &k, true
}

// Mode validates minor (0) / major (1).
func Mode(m int) (*int, bool) {
	if m != 0 && m != 1 {
		return nil, false
	}
	return &m, true
}

// Tempo validates beats per minute.
func Tempo(bpm float64) (*float64, bool) {
	if math.IsNaN(bpm) || bpm <= 0 || bpm > maxTempo {
		return nil, false
	}
	return &bpm, true
}

// Count validates a non-negative counter such as views or listeners.
func Count(n int64) (*int64, bool) {
	if n < 0 {
		return nil, false
	}
	return &n, true
}

// Language returns the canonical BCP-47 form of a language code.
func Language(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return "", false
	}
	return tag.String(), true
}

// Role lower-cases a credit role and joins words with underscores.
func Role(role string) string {
	return strings.ReplaceAll(strings.ToLower(Text(role)), " ", "_")
}

// Credits trims entries, drops empty names and removes duplicate (role, name)
// pairs compared with Unicode case folding. The first occurrence wins and order
// is preserved.
func Credits(in []models.Credit) []models.Credit {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]models.Credit, 0, len(in))
	for _, c := range in {
		c.Name = Text(c.Name)
		c.Role = Role(c.Role)
		if c.Name == "" || c.Role == "" {
			continue
		}
		key := folder.String(c.Role) + "\x00" + folder.String(c.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
