package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/irfndi/decoupling-detector/internal/metrics"
	"github.com/irfndi/decoupling-detector/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PriceSource supplies the price history an analysis runs on.
type PriceSource interface {
	LoadPriceTable(ctx context.Context, assets []analysis.AssetID, lookbackDays int, now time.Time) (*analysis.PriceTable, error)
}

// AnalysisRequest is a decoupling analysis as requested by a caller.
type AnalysisRequest struct {
	Benchmark    analysis.AssetID
	Assets       []analysis.AssetID
	Window       int
	LookbackDays int
	// Thresholds overrides the service defaults when set.
	Thresholds *analysis.Thresholds
}

// DecouplingReport is an analysis result plus the context it was run in.
type DecouplingReport struct {
	*analysis.Result
	LookbackDays int                `json:"lookback_days"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Performance  []AssetPerformance `json:"performance"`
}

// DecouplingService loads prices and runs the decoupling analysis on them.
type DecouplingService struct {
	source   PriceSource
	analyzer *analysis.Analyzer
	metrics  *metrics.MetricsRegistry
	logger   *logrus.Logger
	retrier  *Retrier
	now      func() time.Time
}

// NewDecouplingService creates a new decoupling service. metricsRegistry may
// be nil.
func NewDecouplingService(source PriceSource, analyzer *analysis.Analyzer, metricsRegistry *metrics.MetricsRegistry, logger *logrus.Logger) *DecouplingService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DecouplingService{
		source:   source,
		analyzer: analyzer,
		metrics:  metricsRegistry,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRetrier retries failed price loads under the price_load policy.
func (s *DecouplingService) WithRetrier(retrier *Retrier) *DecouplingService {
	s.retrier = retrier
	return s
}

// Thresholds returns the default regime thresholds.
func (s *DecouplingService) Thresholds() analysis.Thresholds {
	return s.analyzer.Thresholds()
}

// Analyze runs one analysis. The deadline on ctx is checked before prices
// are loaded and again before the computation starts; a computation that
// has started runs to completion.
func (s *DecouplingService) Analyze(ctx context.Context, req AnalysisRequest) (*DecouplingReport, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.GetAnalysisTracer(), "decoupling.analyze",
		trace.WithAttributes(
			attribute.String("analysis.benchmark", string(req.Benchmark)),
			attribute.Int("analysis.assets", len(req.Assets)),
			attribute.Int("analysis.window", req.Window),
			attribute.Int("analysis.lookback_days", req.LookbackDays),
		),
	)
	defer span.End()

	entry := s.logger.WithFields(logrus.Fields{
		"component":     "decoupling_service",
		"benchmark":     req.Benchmark,
		"assets":        req.Assets,
		"window":        req.Window,
		"lookback_days": req.LookbackDays,
	})

	report, err := s.analyze(ctx, req)
	duration := time.Since(start)
	outcome := outcomeOf(err)

	if s.metrics != nil {
		var result *analysis.Result
		if report != nil {
			result = report.Result
		}
		s.metrics.RecordAnalysis(outcome, duration, result)
	}

	if err != nil {
		telemetry.RecordError(span, err)
		entry = entry.WithError(err).WithField("duration_ms", duration.Milliseconds())
		if outcome == metrics.OutcomeError {
			entry.Error("Decoupling analysis failed")
		} else {
			entry.WithField("outcome", outcome).Warn("Decoupling analysis rejected")
		}
		return nil, err
	}

	telemetry.SetSpanAttributes(span,
		attribute.Int("analysis.sample_rows", report.SampleRows),
		attribute.Int("analysis.dropped_rows", report.DroppedRows),
	)
	telemetry.SetSpanStatus(span, codes.Ok, "analysis complete")
	entry.WithFields(logrus.Fields{
		"sample_rows":  report.SampleRows,
		"dropped_rows": report.DroppedRows,
		"duration_ms":  duration.Milliseconds(),
	}).Info("Decoupling analysis completed")

	return report, nil
}

func (s *DecouplingService) analyze(ctx context.Context, req AnalysisRequest) (*DecouplingReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis not started: %w", err)
	}

	analyzer := s.analyzer
	if req.Thresholds != nil {
		custom, err := analysis.NewAnalyzer(*req.Thresholds)
		if err != nil {
			return nil, err
		}
		analyzer = custom
	}
	req.Assets = uniqueAssets(req.Assets)

	prices, err := s.loadPrices(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis not started: %w", err)
	}

	result, err := analyzer.Analyze(prices, analysis.Request{
		Benchmark: req.Benchmark,
		Window:    req.Window,
		Assets:    req.Assets,
	})
	if err != nil {
		return nil, err
	}

	return &DecouplingReport{
		Result:       result,
		LookbackDays: req.LookbackDays,
		GeneratedAt:  s.now().UTC(),
		Performance:  ComputePerformance(result),
	}, nil
}

// uniqueAssets drops repeated assets, keeping the first occurrence. Price
// sources reject duplicate columns.
func uniqueAssets(assets []analysis.AssetID) []analysis.AssetID {
	seen := make(map[analysis.AssetID]bool, len(assets))
	out := make([]analysis.AssetID, 0, len(assets))
	for _, asset := range assets {
		if !seen[asset] {
			seen[asset] = true
			out = append(out, asset)
		}
	}
	return out
}

func (s *DecouplingService) loadPrices(ctx context.Context, req AnalysisRequest) (*analysis.PriceTable, error) {
	if s.retrier == nil {
		return s.source.LoadPriceTable(ctx, req.Assets, req.LookbackDays, s.now())
	}

	var prices *analysis.PriceTable
	err := s.retrier.ExecuteWithRetry(ctx, OperationPriceLoad, func(ctx context.Context) error {
		var err error
		prices, err = s.source.LoadPriceTable(ctx, req.Assets, req.LookbackDays, s.now())
		return err
	})
	return prices, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return metrics.OutcomeTimeout
	case analysis.KindName(err) != "":
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
