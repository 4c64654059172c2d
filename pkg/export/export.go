// Package export writes a listing collection as a delimited text file.
//
// Columns are the union of field names across all items in order of first
// appearance. There is no index column. Cell rendering:
//
//	missing field, null  -> empty cell
//	string               -> as is
//	number               -> JSON text as received
//	bool                 -> True / False
//	object, array        -> compact JSON
//
// An empty collection produces an empty file.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/Sternrassler/storage-files-export/pkg/listing"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Defaults for the output file.
const (
	DefaultSeparator = ";"
	DefaultFilename  = "parsed_result.csv"
)

// ErrInvalidSeparator is returned for separators that are not a single
// usable character.
var ErrInvalidSeparator = errors.New("invalid separator")

var rowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "files_export_rows_written_total",
	Help: "Total data rows written to output files",
})

// ParseSeparator validates sep and returns it as a rune.
func ParseSeparator(sep string) (rune, error) {
	if utf8.RuneCountInString(sep) != 1 {
		return 0, fmt.Errorf("%w: %q must be exactly one character", ErrInvalidSeparator, sep)
	}
	r, _ := utf8.DecodeRuneInString(sep)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("%w: %q cannot be used", ErrInvalidSeparator, sep)
	}
	return r, nil
}

// Write writes c to w and returns the number of data rows written.
func Write(w io.Writer, c listing.Collection, sep string) (int, error) {
	comma, err := ParseSeparator(sep)
	if err != nil {
		return 0, err
	}

	if len(c) == 0 {
		return 0, nil
	}

	// Items without fields still produce one (empty) row each.
	columns := c.Columns()

	cw := csv.NewWriter(w)
	cw.Comma = comma

	if err := cw.Write(columns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(columns))
	for i, item := range c {
		values := item.Map()
		for j, col := range columns {
			cell, err := formatValue(values[col])
			if err != nil {
				return i, fmt.Errorf("row %d column %q: %w", i, col, err)
			}
			record[j] = cell
		}
		if err := cw.Write(record); err != nil {
			return i, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush: %w", err)
	}

	return len(c), nil
}

// Persist writes c to destination atomically: on failure the destination is
// left untouched. It returns the number of data rows written.
func Persist(c listing.Collection, sep, destination string) (int, error) {
	if _, err := ParseSeparator(sep); err != nil {
		return 0, err
	}

	pending, err := renameio.NewPendingFile(destination, renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destination, err)
	}
	defer pending.Cleanup()

	rows, err := Write(pending, c, sep)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", destination, err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("replace %s: %w", destination, err)
	}

	rowsWrittenTotal.Add(float64(rows))
	return rows, nil
}

func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		if val {
			return "True", nil
		}
		return "False", nil
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, val); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
