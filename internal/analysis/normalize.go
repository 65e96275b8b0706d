package analysis

import "time"

// DefaultBase is the value every normalized column starts at.
const DefaultBase = 100.0

// Normalize rebases each price column so its first non-missing value equals
// base. Ratios within a column are preserved and missing cells stay
// undefined.
func Normalize(prices *PriceTable, base float64) (*NormalizedSeries, error) {
	if prices == nil || len(prices.Assets) == 0 {
		return nil, insufficientData(1, 0, "normalization needs at least one asset column")
	}

	values := make(map[AssetID][]Value, len(prices.Assets))
	for _, asset := range prices.Assets {
		anchor, ok := firstPrice(prices, asset)
		if !ok {
			return nil, &Error{Kind: ErrEmptySeries, Asset: asset, Message: "no usable price observations"}
		}

		column := make([]Value, prices.Rows())
		for i := range column {
			if p, ok := prices.price(asset, i); ok {
				column[i] = Defined(p / anchor * base)
			}
		}
		values[asset] = column
	}

	return &NormalizedSeries{
		Timestamps: append([]time.Time(nil), prices.Timestamps...),
		Assets:     append([]AssetID(nil), prices.Assets...),
		Base:       base,
		Values:     values,
	}, nil
}

func firstPrice(prices *PriceTable, asset AssetID) (float64, bool) {
	for i := 0; i < prices.Rows(); i++ {
		if p, ok := prices.price(asset, i); ok {
			return p, true
		}
	}
	return 0, false
}
