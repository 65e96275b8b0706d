// Package analysis implements the decoupling analytics: returns, rolling and
// static Pearson correlation against a benchmark, regime classification and
// base-100 normalization. Every function is a pure function of its inputs.
package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// AssetID identifies a price series, e.g. "BTC-USD".
type AssetID string

// Value is a float64 that may be undefined. Undefined marshals to JSON null.
type Value struct {
	Float   float64
	Defined bool
}

// Undefined is the zero Value.
var Undefined = Value{}

// Defined wraps a concrete float.
func Defined(f float64) Value {
	return Value{Float: f, Defined: true}
}

func (v Value) String() string {
	if !v.Defined {
		return "undefined"
	}
	return strconv.FormatFloat(v.Float, 'f', 4, 64)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Undefined
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}

// PriceTable is a rectangular table of prices keyed by timestamp and asset.
// A missing price is stored as NaN. Treat it as immutable once built.
type PriceTable struct {
	Timestamps []time.Time
	Assets     []AssetID
	Prices     map[AssetID][]float64
}

// NewPriceTable validates and builds a PriceTable. Timestamps must be
// strictly increasing and every asset column must have one cell per row.
func NewPriceTable(timestamps []time.Time, assets []AssetID, prices map[AssetID][]float64) (*PriceTable, error) {
	if len(assets) == 0 {
		return nil, insufficientData(1, 0, "price table has no asset columns")
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return nil, insufficientData(0, 0, "timestamps must be strictly increasing at row %d", i)
		}
	}

	seen := make(map[AssetID]bool, len(assets))
	columns := make(map[AssetID][]float64, len(assets))
	for _, asset := range assets {
		if seen[asset] {
			return nil, invalidSelection(asset, "duplicate asset column")
		}
		seen[asset] = true

		column, ok := prices[asset]
		if !ok {
			return nil, invalidSelection(asset, "asset column missing from price data")
		}
		if len(column) != len(timestamps) {
			return nil, &Error{
				Kind:     ErrInsufficientData,
				Asset:    asset,
				Required: len(timestamps),
				Actual:   len(column),
				Message:  "column length does not match timestamp count",
			}
		}
		columns[asset] = column
	}

	return &PriceTable{
		Timestamps: timestamps,
		Assets:     append([]AssetID(nil), assets...),
		Prices:     columns,
	}, nil
}

// Rows returns the number of timestamps.
func (t *PriceTable) Rows() int {
	return len(t.Timestamps)
}

// Has reports whether the table carries a column for asset.
func (t *PriceTable) Has(asset AssetID) bool {
	_, ok := t.Prices[asset]
	return ok
}

// Select returns a view restricted to the given assets, in the given order.
func (t *PriceTable) Select(assets []AssetID) (*PriceTable, error) {
	columns := make(map[AssetID][]float64, len(assets))
	for _, asset := range assets {
		column, ok := t.Prices[asset]
		if !ok {
			return nil, invalidSelection(asset, "asset not present in price table")
		}
		columns[asset] = column
	}
	return &PriceTable{
		Timestamps: t.Timestamps,
		Assets:     append([]AssetID(nil), assets...),
		Prices:     columns,
	}, nil
}

// price returns the usable price at row i, or false when the cell is
// missing, non-positive or infinite.
func (t *PriceTable) price(asset AssetID, i int) (float64, bool) {
	p := t.Prices[asset][i]
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return 0, false
	}
	return p, true
}

// ReturnTable holds simple returns over the aligned sample. It never
// contains missing cells.
type ReturnTable struct {
	Timestamps []time.Time
	Assets     []AssetID
	Returns    map[AssetID][]float64
	// RawRows is the row count before aligned-sample pruning.
	RawRows int
	// DroppedRows counts rows removed because some asset's return was missing.
	DroppedRows int
}

// Rows returns the number of aligned return rows.
func (r *ReturnTable) Rows() int {
	return len(r.Timestamps)
}

func (r *ReturnTable) column(asset AssetID) ([]float64, error) {
	column, ok := r.Returns[asset]
	if !ok {
		return nil, invalidSelection(asset, "asset not present in return table")
	}
	return column, nil
}

// Point is one observation of a rolling series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     Value     `json:"value"`
}

// RollingSeries is the rolling correlation of Asset against Benchmark.
type RollingSeries struct {
	Benchmark AssetID `json:"benchmark"`
	Asset     AssetID `json:"asset"`
	Window    int     `json:"window"`
	Points    []Point `json:"points"`
}

// Latest returns the value at the most recent point. An undefined latest
// point stays undefined; older defined values are not substituted.
func (s *RollingSeries) Latest() Value {
	if len(s.Points) == 0 {
		return Undefined
	}
	return s.Points[len(s.Points)-1].Value
}

// CorrelationMatrix is a symmetric asset×asset correlation matrix over the
// trailing SampleSize rows of the aligned returns.
type CorrelationMatrix struct {
	Assets     []AssetID `json:"assets"`
	Values     [][]Value `json:"values"`
	Window     int       `json:"window"`
	SampleSize int       `json:"sample_size"`
}

// At returns the correlation between a and b.
func (m *CorrelationMatrix) At(a, b AssetID) (Value, error) {
	i, j := -1, -1
	for k, asset := range m.Assets {
		if asset == a {
			i = k
		}
		if asset == b {
			j = k
		}
	}
	if i < 0 {
		return Undefined, invalidSelection(a, "asset not in correlation matrix")
	}
	if j < 0 {
		return Undefined, invalidSelection(b, "asset not in correlation matrix")
	}
	return m.Values[i][j], nil
}

// Truncated reports whether fewer rows than the requested window were
// available.
func (m *CorrelationMatrix) Truncated() bool {
	return m.SampleSize < m.Window
}

// NormalizedSeries is a PriceTable rebased so that each column's first
// available value equals Base.
type NormalizedSeries struct {
	Timestamps []time.Time         `json:"timestamps"`
	Assets     []AssetID           `json:"assets"`
	Base       float64             `json:"base"`
	Values     map[AssetID][]Value `json:"values"`
}

func (s *NormalizedSeries) String() string {
	return fmt.Sprintf("NormalizedSeries{assets=%d rows=%d base=%g}", len(s.Assets), len(s.Timestamps), s.Base)
}
