package analysis

import "math"

// MinWindow is the smallest window for which a Pearson correlation exists.
const MinWindow = 2

// RollingCorrelation computes the Pearson correlation between benchmark and
// target over every trailing window of aligned returns. The first window-1
// points are undefined, as is any window where either series is constant.
func RollingCorrelation(returns *ReturnTable, benchmark, target AssetID, window int) (*RollingSeries, error) {
	x, err := returns.column(benchmark)
	if err != nil {
		return nil, err
	}
	y, err := returns.column(target)
	if err != nil {
		return nil, err
	}
	if window < MinWindow {
		return nil, invalidWindow(window, returns.Rows(), "window must be at least %d", MinWindow)
	}
	if window > returns.Rows() {
		return nil, invalidWindow(window, returns.Rows(), "window exceeds available aligned rows")
	}
	return rolling(returns, benchmark, target, x, y, window), nil
}

// rolling does not validate the window; a window longer than the sample
// yields a series of undefined points.
func rolling(returns *ReturnTable, benchmark, target AssetID, x, y []float64, window int) *RollingSeries {
	points := make([]Point, len(x))
	for end := range x {
		points[end].Timestamp = returns.Timestamps[end]
		if end+1 < window {
			continue
		}
		start := end + 1 - window
		points[end].Value = pearson(x[start:end+1], y[start:end+1])
	}
	return &RollingSeries{
		Benchmark: benchmark,
		Asset:     target,
		Window:    window,
		Points:    points,
	}
}

// CorrelationMatrixOf computes the full correlation matrix over the last
// window rows of the aligned returns. When fewer rows exist the matrix uses
// all of them and SampleSize reports how many.
func CorrelationMatrixOf(returns *ReturnTable, window int) (*CorrelationMatrix, error) {
	if window < MinWindow {
		return nil, invalidWindow(window, returns.Rows(), "window must be at least %d", MinWindow)
	}

	sample := window
	if rows := returns.Rows(); rows < sample {
		sample = rows
	}
	start := returns.Rows() - sample

	n := len(returns.Assets)
	values := make([][]Value, n)
	for i := range values {
		values[i] = make([]Value, n)
	}

	for i := 0; i < n; i++ {
		if sample > 0 {
			values[i][i] = Defined(1)
		}
		xi := returns.Returns[returns.Assets[i]][start:]
		for j := i + 1; j < n; j++ {
			xj := returns.Returns[returns.Assets[j]][start:]
			v := pearson(xi, xj)
			values[i][j] = v
			values[j][i] = v
		}
	}

	return &CorrelationMatrix{
		Assets:     append([]AssetID(nil), returns.Assets...),
		Values:     values,
		Window:     window,
		SampleSize: sample,
	}, nil
}

// pearson returns the sample correlation of x and y, or Undefined when
// fewer than two points exist or either series has zero variance.
func pearson(x, y []float64) Value {
	n := len(x)
	if n < MinWindow || len(y) != n {
		return Undefined
	}
	if constant(x) || constant(y) {
		return Undefined
	}

	meanX := mean(x)
	meanY := mean(y)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}

	denom := math.Sqrt(sxx * syy)
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return Undefined
	}

	corr := sxy / denom
	if corr > 1 {
		corr = 1
	} else if corr < -1 {
		corr = -1
	}
	return Defined(corr)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// constantTolerance is the relative spread below which a window counts as
// constant. Returns of a geometric price path differ only in the last bits.
const constantTolerance = 1e-12

// constant reports whether values spread less than constantTolerance of
// their largest magnitude.
func constant(values []float64) bool {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	scale := math.Max(math.Abs(lo), math.Abs(hi))
	return hi-lo <= constantTolerance*scale
}
