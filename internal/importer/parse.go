package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// FILE PARSING - Delimiter Detection + Bounded In-Memory Read
// =============================================================================

// MaxDataRows caps an import file. Everything is held in memory through the
// preview phase, so oversize files are rejected up front.
const MaxDataRows = 4000

var (
	ErrEmptyFile    = errors.New("importer: file contains no data rows")
	ErrTooManyRows  = fmt.Errorf("importer: file exceeds the %d row limit", MaxDataRows)
	ErrSingleColumn = errors.New("importer: could not detect a field delimiter, only one column found")
)

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// DetectDelimiter counts candidate delimiters over the first three lines and
// picks the most frequent one. Ties and unreadable input fall back to comma.
func DetectDelimiter(data string) rune {
	lines := strings.SplitN(data, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
	}
	sample := strings.Join(lines, "\n")

	best := ','
	bestCount := 0
	for _, d := range candidateDelimiters {
		n := strings.Count(sample, string(d))
		if n > bestCount {
			best = d
			bestCount = n
		}
	}
	return best
}

// parseFile reads the header and all data rows. Files over MaxDataRows, with
// no data rows, or with a single-column header are rejected whole.
func parseFile(r io.Reader, delimiter rune) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("importer: read header: %w", err)
	}
	if len(headers) < 2 {
		return nil, nil, ErrSingleColumn
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("importer: read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, row)
		if len(rows) > MaxDataRows {
			return nil, nil, ErrTooManyRows
		}
	}
	if len(rows) == 0 {
		return nil, nil, ErrEmptyFile
	}
	return headers, rows, nil
}

// cell returns the trimmed value at idx, or "" when the column is unmapped or
// missing from a short row.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
