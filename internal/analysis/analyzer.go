package analysis

// Request selects the assets, benchmark and window of one analysis.
type Request struct {
	Benchmark AssetID
	Window    int
	Assets    []AssetID
}

// Summary is the current regime of one asset relative to the benchmark.
type Summary struct {
	Asset             AssetID `json:"asset"`
	LatestCorrelation Value   `json:"latest_correlation"`
	Regime            Regime  `json:"regime"`
}

// Result is everything presentation needs to render an analysis.
type Result struct {
	Benchmark  AssetID                    `json:"benchmark"`
	Window     int                        `json:"window"`
	Thresholds Thresholds                 `json:"thresholds"`
	Summaries  []Summary                  `json:"summaries"`
	Rolling    map[AssetID]*RollingSeries `json:"rolling"`
	Matrix     *CorrelationMatrix         `json:"matrix"`
	Normalized *NormalizedSeries          `json:"normalized"`
	// SampleRows is the number of aligned return rows all statistics share.
	SampleRows  int `json:"sample_rows"`
	DroppedRows int `json:"dropped_rows"`
	// Returns is the aligned sample the statistics were computed from.
	Returns *ReturnTable `json:"-"`
}

// Analyzer composes returns, correlation, classification and normalization.
// It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	thresholds Thresholds
}

// NewAnalyzer returns an Analyzer using the given thresholds.
func NewAnalyzer(thresholds Thresholds) (*Analyzer, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{thresholds: thresholds}, nil
}

// Thresholds returns the regime thresholds in use.
func (a *Analyzer) Thresholds() Thresholds {
	return a.thresholds
}

// Analyze runs the full decoupling analysis on prices.
func (a *Analyzer) Analyze(prices *PriceTable, req Request) (*Result, error) {
	assets, err := validateRequest(prices, req)
	if err != nil {
		return nil, err
	}

	selected, err := prices.Select(assets)
	if err != nil {
		return nil, err
	}

	returns, err := ComputeReturns(selected)
	if err != nil {
		return nil, err
	}

	benchmarkReturns := returns.Returns[req.Benchmark]
	summaries := make([]Summary, 0, len(assets)-1)
	series := make(map[AssetID]*RollingSeries, len(assets)-1)
	for _, asset := range assets {
		if asset == req.Benchmark {
			continue
		}
		s := rolling(returns, req.Benchmark, asset, benchmarkReturns, returns.Returns[asset], req.Window)
		latest := s.Latest()
		series[asset] = s
		summaries = append(summaries, Summary{
			Asset:             asset,
			LatestCorrelation: latest,
			Regime:            a.thresholds.Classify(latest),
		})
	}

	matrix, err := CorrelationMatrixOf(returns, req.Window)
	if err != nil {
		return nil, err
	}

	normalized, err := Normalize(selected, DefaultBase)
	if err != nil {
		return nil, err
	}

	return &Result{
		Benchmark:   req.Benchmark,
		Window:      req.Window,
		Thresholds:  a.thresholds,
		Summaries:   summaries,
		Rolling:     series,
		Matrix:      matrix,
		Normalized:  normalized,
		SampleRows:  returns.Rows(),
		DroppedRows: returns.DroppedRows,
		Returns:     returns,
	}, nil
}

// validateRequest returns the de-duplicated asset selection in input order.
func validateRequest(prices *PriceTable, req Request) ([]AssetID, error) {
	if prices == nil {
		return nil, insufficientData(2, 0, "no price table supplied")
	}

	seen := make(map[AssetID]bool, len(req.Assets))
	assets := make([]AssetID, 0, len(req.Assets))
	for _, asset := range req.Assets {
		if seen[asset] {
			continue
		}
		seen[asset] = true
		assets = append(assets, asset)
	}

	if len(assets) < 2 {
		return nil, &Error{
			Kind:     ErrInvalidSelection,
			Required: 2,
			Actual:   len(assets),
			Message:  "select at least two assets to analyze correlation",
		}
	}
	if req.Benchmark == "" {
		return nil, invalidSelection("", "benchmark is required")
	}
	if !seen[req.Benchmark] {
		return nil, invalidSelection(req.Benchmark, "benchmark must be one of the selected assets")
	}
	for _, asset := range assets {
		if !prices.Has(asset) {
			return nil, invalidSelection(asset, "no price data for selected asset")
		}
	}
	if req.Window < MinWindow {
		return nil, invalidWindow(req.Window, max(prices.Rows()-1, 0), "window must be at least %d", MinWindow)
	}
	return assets, nil
}
