package pricefile

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
)

// Source serves a PriceTable loaded from a file as a price source. Files
// are historical snapshots, so the lookback window ends at the file's last
// timestamp rather than at the wall clock.
type Source struct {
	table *analysis.PriceTable
}

// NewSource wraps table.
func NewSource(table *analysis.PriceTable) *Source {
	return &Source{table: table}
}

// OpenSource reads path and wraps the result.
func OpenSource(path string) (*Source, error) {
	table, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewSource(table), nil
}

// Assets lists the assets present in the file.
func (s *Source) Assets() []analysis.AssetID {
	return append([]analysis.AssetID(nil), s.table.Assets...)
}

// ListAssets is Assets behind the same signature as the database repository.
func (s *Source) ListAssets(ctx context.Context) ([]analysis.AssetID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Assets(), nil
}

// LoadPriceTable returns the requested columns restricted to the last
// lookbackDays of the file. now is ignored.
func (s *Source) LoadPriceTable(ctx context.Context, assets []analysis.AssetID, lookbackDays int, _ time.Time) (*analysis.PriceTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("lookback days must be positive, got %d", lookbackDays)
	}

	selected, err := s.table.Select(assets)
	if err != nil {
		return nil, err
	}
	rows := selected.Rows()
	if rows == 0 {
		return selected, nil
	}

	since := selected.Timestamps[rows-1].AddDate(0, 0, -lookbackDays)
	start := 0
	for start < rows && selected.Timestamps[start].Before(since) {
		start++
	}

	prices := make(map[analysis.AssetID][]float64, len(selected.Assets))
	for _, asset := range selected.Assets {
		prices[asset] = selected.Prices[asset][start:]
	}
	return analysis.NewPriceTable(selected.Timestamps[start:], selected.Assets, prices)
}
