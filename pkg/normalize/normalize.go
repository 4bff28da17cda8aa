package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chipx-network/chipx/pkg/db/models"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// DecodeError means neither UTF-8 nor Big5 could decode the feed bytes.
// File-level and fatal: no row of an undecodable file is trusted.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("feed bytes decode failed (tried utf-8, big5): %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SchemaError means the decoded table does not carry the six positional
// columns the feed contract guarantees. File-level and fatal.
type SchemaError struct {
	Columns int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("feed schema has %d columns, need at least 6", e.Columns)
}

// Stats reports the before/after row accounting of one normalization pass.
// Individual bad rows are never surfaced one by one, only as these deltas.
type Stats struct {
	RowsRead     int
	RowsKept     int
	RowsFiltered int // identifier outside the 4-digit operating-company universe
	RowsDropped  int // malformed date, level or numeric fields
	Duplicates   int // repeated (date, stock_id, level) keys, first seen wins
}

const (
	// Columns are positional; header names drift across feed revisions.
	minColumns = 6

	// Identifiers starting with "00" are fund-type instruments (ETFs etc.)
	// and excluded by design.
	fundPrefix = "00"
)

var stockIDPattern = regexp.MustCompile(`^[0-9]{4}$`)

// ValidStockID reports whether id names a listed operating-company equity:
// exactly four ASCII digits and not in the reserved fund prefix range.
// The trim happens before matching so trailing whitespace in the feed does
// not reject a valid identifier.
func ValidStockID(id string) bool {
	id = strings.TrimSpace(id)
	return stockIDPattern.MatchString(id) && !strings.HasPrefix(id, fundPrefix)
}

type recordKey struct {
	date    string
	stockID string
	level   uint8
}

// Normalize turns the raw feed bytes into the canonical long table.
//
// The transform is pure: decode (UTF-8, then Big5), positional schema check,
// identifier filtering, date conversion, numeric coercion, drop of
// incomplete rows, and deduplication by (date, stock_id, level) keeping the
// first occurrence. Malformed rows are dropped and counted in Stats;
// undecodable bytes or a short schema abort the whole pass.
func Normalize(raw []byte) ([]*models.Distribution, Stats, error) {
	var stats Stats

	text, err := decode(raw)
	if err != nil {
		return nil, stats, err
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, stats, &DecodeError{Err: err}
	}
	if len(rows) == 0 {
		return nil, stats, &SchemaError{Columns: 0}
	}

	// First row is the header; only its width is trusted, not its names.
	if len(rows[0]) < minColumns {
		return nil, stats, &SchemaError{Columns: len(rows[0])}
	}
	rows = rows[1:]

	records := make([]*models.Distribution, 0, len(rows))
	seen := make(map[recordKey]struct{}, len(rows))

	for _, row := range rows {
		stats.RowsRead++

		if len(row) < minColumns {
			stats.RowsDropped++
			continue
		}

		stockID := strings.TrimSpace(row[1])
		if !ValidStockID(stockID) {
			stats.RowsFiltered++
			continue
		}

		date, ok := ParseFeedDate(row[0])
		if !ok {
			stats.RowsDropped++
			continue
		}

		level, ok := parseLevel(row[2])
		if !ok {
			stats.RowsDropped++
			continue
		}

		persons, ok := parseUint(row[3])
		if !ok {
			stats.RowsDropped++
			continue
		}
		shares, ok := parseUint(row[4])
		if !ok {
			stats.RowsDropped++
			continue
		}
		percent, ok := parseFloat(row[5])
		if !ok {
			stats.RowsDropped++
			continue
		}

		key := recordKey{date: date.Value, stockID: stockID, level: level}
		if _, dup := seen[key]; dup {
			// The source occasionally repeats a key within one file;
			// summing without this collapse silently double-counts.
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		records = append(records, &models.Distribution{
			Date:    date.Value,
			StockID: stockID,
			Level:   level,
			Persons: persons,
			Shares:  shares,
			Percent: percent,
		})
		stats.RowsKept++
	}

	return records, stats, nil
}

// decode returns the feed as UTF-8 text. UTF-8 is tried first, then the
// legacy Big5 encoding; no third encoding is attempted.
func decode(raw []byte) ([]byte, error) {
	if utf8.Valid(raw) {
		return raw, nil
	}

	decoded, _, err := transform.Bytes(traditionalchinese.Big5.NewDecoder(), raw)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	// The Big5 decoder substitutes U+FFFD for byte sequences it cannot map;
	// their presence means the file was not Big5 either.
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return nil, &DecodeError{Err: fmt.Errorf("invalid byte sequences in both encodings")}
	}
	return decoded, nil
}

func parseLevel(s string) (uint8, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}

// parseUint coerces a count cell, tolerating thousands separators.
// Unparseable cells drop the row rather than becoming zero: zeros would
// corrupt downstream sums.
func parseUint(s string) (uint64, bool) {
	n, err := strconv.ParseUint(stripCommas(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(stripCommas(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func stripCommas(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", "")
}
