package analysis

import "time"

// ComputeReturns converts prices into simple returns between adjacent rows.
//
// A return is missing when either endpoint price is missing. Rows where any
// asset's return is missing are then dropped so every downstream statistic
// is computed over one shared set of timestamps (aligned-sample policy).
// Pairwise-complete observations are deliberately not used.
func ComputeReturns(prices *PriceTable) (*ReturnTable, error) {
	if prices == nil || len(prices.Assets) == 0 {
		return nil, insufficientData(1, 0, "returns need at least one asset column")
	}
	rows := prices.Rows()
	if rows < 2 {
		return nil, insufficientData(2, rows, "returns need at least two timestamps")
	}

	raw := make(map[AssetID][]float64, len(prices.Assets))
	present := make([]bool, rows-1)
	for i := range present {
		present[i] = true
	}

	for _, asset := range prices.Assets {
		column := make([]float64, rows-1)
		for i := 1; i < rows; i++ {
			prev, okPrev := prices.price(asset, i-1)
			cur, okCur := prices.price(asset, i)
			if !okPrev || !okCur {
				present[i-1] = false
				continue
			}
			column[i-1] = cur/prev - 1
		}
		raw[asset] = column
	}

	kept := 0
	for _, ok := range present {
		if ok {
			kept++
		}
	}

	timestamps := make([]time.Time, 0, kept)
	for i, ok := range present {
		if ok {
			timestamps = append(timestamps, prices.Timestamps[i+1])
		}
	}

	aligned := make(map[AssetID][]float64, len(prices.Assets))
	for _, asset := range prices.Assets {
		column := make([]float64, 0, kept)
		for i, ok := range present {
			if ok {
				column = append(column, raw[asset][i])
			}
		}
		aligned[asset] = column
	}

	return &ReturnTable{
		Timestamps:  timestamps,
		Assets:      append([]AssetID(nil), prices.Assets...),
		Returns:     aligned,
		RawRows:     rows - 1,
		DroppedRows: rows - 1 - kept,
	}, nil
}

// CumulativeReturns compounds the aligned returns into the growth of one
// unit invested at the start of the sample.
func CumulativeReturns(returns *ReturnTable) map[AssetID][]float64 {
	out := make(map[AssetID][]float64, len(returns.Assets))
	for _, asset := range returns.Assets {
		column := returns.Returns[asset]
		growth := make([]float64, len(column))
		acc := 1.0
		for i, r := range column {
			acc *= 1 + r
			growth[i] = acc
		}
		out[asset] = growth
	}
	return out
}
