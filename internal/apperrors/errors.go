// Package apperrors defines the error markers shared by the aggregation engine.
//
// Callers classify failures with errors.Is against the exported sentinels; the
// wrapped message carries component and operation context for logs.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidFormat           = errors.New("invalid isrc format")
	ErrSourceUnavailable       = errors.New("source unavailable")
	ErrSourceAuth              = errors.New("source auth error")
	ErrSourceRateLimited       = errors.New("source rate limited")
	ErrSourceTimeout           = errors.New("source timeout")
	ErrNotFound                = errors.New("not found")
	ErrAggregationTotalFailure = errors.New("aggregation total failure")
	ErrNotAttempted            = errors.New("not attempted")
	ErrConfiguration           = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker. The marker should be one of the exported sentinels.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrSourceUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// UserVisible reports whether err belongs to the small set of failures that are
// surfaced to callers instead of being absorbed as a lower confidence score.
func UserVisible(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidFormat), errors.Is(err, ErrAggregationTotalFailure), errors.Is(err, ErrNotAttempted):
		return true
	default:
		return false
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "engine failure"
	}
	return strings.Join(parts, ": ")
}
