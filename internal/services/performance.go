package services

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/irfndi/decoupling-detector/internal/analysis"
)

// AssetPerformance summarizes how an asset moved over the aligned sample.
type AssetPerformance struct {
	Asset analysis.AssetID `json:"asset"`
	// CumulativeReturn is the compounded return over the whole sample.
	CumulativeReturn analysis.Value `json:"cumulative_return"`
	// MeanReturn is the simple moving average of returns over the last
	// window rows.
	MeanReturn analysis.Value `json:"mean_return"`
}

// ComputePerformance derives per-asset performance from the aligned sample
// of result, in the order of the result's matrix assets.
func ComputePerformance(result *analysis.Result) []AssetPerformance {
	if result == nil || result.Returns == nil {
		return nil
	}
	returns := result.Returns
	cumulative := analysis.CumulativeReturns(returns)

	out := make([]AssetPerformance, 0, len(returns.Assets))
	for _, asset := range returns.Assets {
		perf := AssetPerformance{Asset: asset}
		if growth := cumulative[asset]; len(growth) > 0 {
			perf.CumulativeReturn = analysis.Defined(growth[len(growth)-1] - 1)
		}
		perf.MeanReturn = trailingMean(returns.Returns[asset], result.Window)
		out = append(out, perf)
	}
	return out
}

func trailingMean(values []float64, period int) analysis.Value {
	if period <= 0 || len(values) < period {
		return analysis.Undefined
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	averages := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	if len(averages) == 0 {
		return analysis.Undefined
	}
	return analysis.Defined(averages[len(averages)-1])
}
