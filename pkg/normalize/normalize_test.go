package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

const feedHeader = "資料日期,證券代號,持股分級,人數,股數,占集保庫存數比例%"

func feedCSV(rows ...string) []byte {
	return []byte(feedHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

func TestNormalizeBasic(t *testing.T) {
	raw := feedCSV(
		"1140101,2330,15,\"1,234\",\"5,678,000\",46.32",
		"1140101,2330,1,500000,100000,0.5",
	)

	records, stats, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 2, stats.RowsRead)
	assert.Equal(t, 2, stats.RowsKept)

	first := records[0]
	assert.Equal(t, "2025-01-01", first.Date)
	assert.Equal(t, "2330", first.StockID)
	assert.Equal(t, uint8(15), first.Level)
	assert.Equal(t, uint64(1234), first.Persons)
	assert.Equal(t, uint64(5678000), first.Shares)
	assert.InDelta(t, 46.32, first.Percent, 1e-9)
}

func TestNormalizeIdentifierFilter(t *testing.T) {
	raw := feedCSV(
		"1140101,2330,15,10,1000,1.0",   // kept
		"1140101, 2330 ,14,10,1000,1.0", // kept: trimmed before matching
		"1140101,233,15,10,1000,1.0",    // too short
		"1140101,23301,15,10,1000,1.0",  // too long
		"1140101,2330A,15,10,1000,1.0",  // warrant-style suffix
		"1140101,0050,15,10,1000,1.0",   // fund prefix, 4 digits
		"1140101,00631L,15,10,1000,1.0", // leveraged fund
	)

	records, stats, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2330", records[0].StockID)
	assert.Equal(t, "2330", records[1].StockID)
	assert.Equal(t, 5, stats.RowsFiltered)
}

func TestValidStockID(t *testing.T) {
	assert.True(t, ValidStockID("2330"))
	assert.True(t, ValidStockID("2330 "))
	assert.False(t, ValidStockID("233"))
	assert.False(t, ValidStockID("23301"))
	assert.False(t, ValidStockID("2330A"))
	assert.False(t, ValidStockID("0050"))
	assert.False(t, ValidStockID("00631L"))
}

func TestNormalizeDeduplicatesFirstSeen(t *testing.T) {
	raw := feedCSV(
		"1140101,2330,15,100,1000,1.0",
		"1140101,2330,15,999,9999,9.9", // same key, different counts
	)

	records, stats, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(100), records[0].Persons)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestNormalizeDropsMalformedRows(t *testing.T) {
	raw := feedCSV(
		"1140101,2330,15,100,1000,1.0",
		"notadate,2330,15,100,1000,1.0",
		"1140101,2330,xx,100,1000,1.0",
		"1140101,2330,14,n/a,1000,1.0",
		"1140101,2330,13,100,n/a,1.0",
		"1140101,2330,12,100,1000,n/a",
	)

	records, stats, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 5, stats.RowsDropped)
	assert.Equal(t, 1, stats.RowsKept)
}

func TestNormalizeMixedDateShapes(t *testing.T) {
	raw := feedCSV(
		"20250103,2330,15,100,1000,1.0",
		"1140103,2454,15,100,1000,1.0",
		"2025/01/03,2317,15,100,1000,1.0",
	)

	records, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, "2025-01-03", r.Date)
	}
}

func TestNormalizeBig5Fallback(t *testing.T) {
	big5, _, err := transform.Bytes(traditionalchinese.Big5.NewEncoder(), feedCSV(
		"1140101,2330,15,100,1000,1.0",
	))
	require.NoError(t, err)

	records, _, err := Normalize(big5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2330", records[0].StockID)
}

func TestNormalizeDecodeError(t *testing.T) {
	// Invalid in UTF-8 and unmappable in Big5.
	raw := []byte{0xff, 0xfe, 0xff, 0xff}

	_, _, err := Normalize(raw)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestNormalizeSchemaError(t *testing.T) {
	raw := []byte("date,stock,level\n1140101,2330,15\n")

	_, _, err := Normalize(raw)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, 3, schemaErr.Columns)
}
