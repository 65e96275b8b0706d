package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

func days(n int) []time.Time {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

// mustTable builds a daily PriceTable; assets keep the order given.
func mustTable(t *testing.T, assets []AssetID, columns ...[]float64) *PriceTable {
	t.Helper()
	require.Len(t, columns, len(assets))
	prices := make(map[AssetID][]float64, len(assets))
	for i, asset := range assets {
		prices[asset] = columns[i]
	}
	table, err := NewPriceTable(days(len(columns[0])), assets, prices)
	require.NoError(t, err)
	return table
}
