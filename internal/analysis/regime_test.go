package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholds_Classify(t *testing.T) {
	thresholds := DefaultThresholds()

	tests := []struct {
		name        string
		correlation Value
		expected    Regime
	}{
		{"strong correlation", Defined(0.95), RegimeLockstep},
		{"just above upper", Defined(0.81), RegimeLockstep},
		{"at upper boundary", Defined(0.8), RegimeLinked},
		{"between thresholds", Defined(0.65), RegimeLinked},
		{"at lower boundary", Defined(0.5), RegimeLinked},
		{"just below lower", Defined(0.49), RegimeDecoupled},
		{"negative correlation", Defined(-0.7), RegimeDecoupled},
		{"perfect correlation", Defined(1), RegimeLockstep},
		{"undefined correlation", Undefined, RegimeUndefined},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, thresholds.Classify(tc.correlation))
		})
	}
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		upper   float64
		lower   float64
		wantErr bool
	}{
		{name: "defaults", upper: 0.8, lower: 0.5},
		{name: "full range", upper: 1, lower: 0},
		{name: "lower equals upper", upper: 0.6, lower: 0.6, wantErr: true},
		{name: "lower above upper", upper: 0.5, lower: 0.8, wantErr: true},
		{name: "negative lower", upper: 0.8, lower: -0.1, wantErr: true},
		{name: "upper above one", upper: 1.2, lower: 0.5, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			thresholds, err := NewThresholds(tc.upper, tc.lower)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				assert.Equal(t, Thresholds{}, thresholds)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.upper, thresholds.Upper)
			assert.Equal(t, tc.lower, thresholds.Lower)
		})
	}
}

func TestThresholds_CustomValues(t *testing.T) {
	thresholds, err := NewThresholds(0.9, 0.3)
	require.NoError(t, err)

	assert.Equal(t, RegimeLinked, thresholds.Classify(Defined(0.85)))
	assert.Equal(t, RegimeLinked, thresholds.Classify(Defined(0.4)))
	assert.Equal(t, RegimeDecoupled, thresholds.Classify(Defined(0.29)))
	assert.Equal(t, RegimeLockstep, thresholds.Classify(Defined(0.91)))
}

func TestRegime_Text(t *testing.T) {
	assert.Equal(t, "lockstep", RegimeLockstep.String())
	assert.Equal(t, "undefined", RegimeUndefined.String())
	assert.Equal(t, "Regime(9)", Regime(9).String())
	assert.False(t, RegimeUndefined.IsDefined())
	assert.True(t, RegimeDecoupled.IsDefined())

	data, err := json.Marshal(Summary{Asset: "ETH", LatestCorrelation: Defined(0.42), Regime: RegimeDecoupled})
	require.NoError(t, err)
	assert.JSONEq(t, `{"asset":"ETH","latest_correlation":0.42,"regime":"decoupled"}`, string(data))

	var r Regime
	require.NoError(t, r.UnmarshalText([]byte("linked")))
	assert.Equal(t, RegimeLinked, r)
	assert.Error(t, r.UnmarshalText([]byte("sideways")))
}
