// Package parser reads ISRC lists for bulk analysis.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ces0491/isrc-meta-data-finder/internal/isrc"
)

// header names accepted for the ISRC column
var headerAliases = map[string]bool{
	"isrc":           true,
	"isrc_code":      true,
	"isrcs":          true,
	"recording_isrc": true,
	"track_isrc":     true,
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// ReadISRCs reads one code per row from CSV input. The ISRC column is found by
// header name; without a recognizable header the first column is used and the
// first row is treated as data. Blank cells are skipped and codes are returned
// as written so invalid ones surface as failed batch items.
func ReadISRCs(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	column := -1
	for i, h := range first {
		if headerAliases[normalizeHeader(h)] {
			column = i
			break
		}
	}

	var codes []string
	if column < 0 {
		if len(first) > 1 && !isrc.Valid(isrc.Clean(first[0])) {
			return nil, errors.New("csv has no isrc column")
		}
		column = 0
		codes = appendCell(codes, first, column)
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		codes = appendCell(codes, row, column)
	}
	return codes, nil
}

func appendCell(codes, row []string, column int) []string {
	if column >= len(row) {
		return codes
	}
	if v := strings.TrimSpace(row[column]); v != "" {
		return append(codes, v)
	}
	return codes
}
