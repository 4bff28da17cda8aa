package aggregate

// Bracket-level domain constants. The disclosure source assigns ordinal
// levels by position size; these thresholds are fixed by the source, not
// configuration.
const (
	// TopLevel is the largest-holder bracket (informally >1000 board-lots).
	TopLevel uint8 = 15

	// LotSize converts raw share counts to board-lots.
	LotSize = 1000
)

// LargeLevels is the large-holder cohort (informally >400 board-lots).
// A closed list on purpose: a hypothetical future level above 15 must not
// silently join the cohort, which a ">= 12" rule would allow.
var LargeLevels = [4]uint8{12, 13, 14, 15}

// DistributionSnapshot is one wide row of the per-security summary: one
// disclosure date collapsed across bracket levels, with derived totals and
// the externally joined closing price. Delta fields compare against the
// immediately preceding date in the series and are nil on the oldest row.
type DistributionSnapshot struct {
	Date string `json:"date"`

	TotalPersons uint64  `json:"total_persons"`
	AvgLots      float64 `json:"avg_lots"` // board-lots per holder

	LargePercent float64 `json:"large_percent"` // levels 12-15
	LargePersons uint64  `json:"large_persons"`
	LargeLots    float64 `json:"large_lots"`

	TopPercent float64 `json:"top_percent"` // level 15 only
	TopPersons uint64  `json:"top_persons"`

	Level12Persons uint64 `json:"level12_persons"`
	Level13Persons uint64 `json:"level13_persons"`
	Level14Persons uint64 `json:"level14_persons"`

	Price *float64 `json:"price"` // nil on non-trading days

	TotalPersonsDelta *int64   `json:"total_persons_delta"`
	AvgLotsDelta      *float64 `json:"avg_lots_delta"`
	LargePercentDelta *float64 `json:"large_percent_delta"`
	LargePersonsDelta *int64   `json:"large_persons_delta"`
	TopPercentDelta   *float64 `json:"top_percent_delta"`
	TopPersonsDelta   *int64   `json:"top_persons_delta"`
	PriceDelta        *float64 `json:"price_delta"`
}

// MarketDeltaRow is one entry of the market-wide concentration ranking:
// a security's current top-bracket holding percent and its change against
// the comparison date.
type MarketDeltaRow struct {
	StockID   string  `json:"stock_id"`
	Percent   float64 `json:"percent"`    // at the current date
	ChangePct float64 `json:"change_pct"` // current minus comparison
	Shares    uint64  `json:"shares"`     // held units at the current date
}
