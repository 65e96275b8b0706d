package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_RebasesToFirstValue(t *testing.T) {
	table := mustTable(t, []AssetID{"BTC", "ETH"},
		[]float64{40000, 42000, 38000},
		[]float64{2500, 2400, 2750},
	)

	normalized, err := Normalize(table, DefaultBase)
	require.NoError(t, err)
	assert.Equal(t, DefaultBase, normalized.Base)
	assert.Equal(t, table.Timestamps, normalized.Timestamps)
	assert.Equal(t, []AssetID{"BTC", "ETH"}, normalized.Assets)

	for _, asset := range table.Assets {
		assert.Equal(t, Defined(100), normalized.Values[asset][0], "%s must start at the base", asset)
	}
	assert.InDelta(t, 105.0, normalized.Values["BTC"][1].Float, 1e-9)
	assert.InDelta(t, 95.0, normalized.Values["BTC"][2].Float, 1e-9)
	assert.InDelta(t, 96.0, normalized.Values["ETH"][1].Float, 1e-9)
	assert.InDelta(t, 110.0, normalized.Values["ETH"][2].Float, 1e-9)
}

func TestNormalize_PreservesRatios(t *testing.T) {
	prices := []float64{17.5, 21.2, 19.9, 30.4, 28.1}
	table := mustTable(t, []AssetID{"SOL"}, prices)

	normalized, err := Normalize(table, 1)
	require.NoError(t, err)

	column := normalized.Values["SOL"]
	for i := 1; i < len(prices); i++ {
		assert.InDelta(t, prices[i]/prices[i-1], column[i].Float/column[i-1].Float, 1e-12)
	}
}

func TestNormalize_MissingValues(t *testing.T) {
	table := mustTable(t, []AssetID{"BTC", "NEW"},
		[]float64{100, 110, nan, 120},
		[]float64{nan, nan, 5, 6},
	)

	normalized, err := Normalize(table, DefaultBase)
	require.NoError(t, err)

	assert.False(t, normalized.Values["BTC"][2].Defined)
	assert.InDelta(t, 120.0, normalized.Values["BTC"][3].Float, 1e-9)

	// A late-listed asset is anchored at its first observation.
	assert.False(t, normalized.Values["NEW"][0].Defined)
	assert.False(t, normalized.Values["NEW"][1].Defined)
	assert.Equal(t, Defined(100), normalized.Values["NEW"][2])
	assert.InDelta(t, 120.0, normalized.Values["NEW"][3].Float, 1e-9)
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize(nil, DefaultBase)
	assert.ErrorIs(t, err, ErrInsufficientData)

	table := mustTable(t, []AssetID{"BTC", "DEAD"},
		[]float64{100, 101},
		[]float64{nan, 0},
	)
	_, err = Normalize(table, DefaultBase)
	require.ErrorIs(t, err, ErrEmptySeries)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssetID("DEAD"), aerr.Asset)
}
