package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/irfndi/decoupling-detector/internal/middleware"
	"github.com/irfndi/decoupling-detector/internal/services"
	"github.com/sirupsen/logrus"
)

// DecouplingAnalyzer runs decoupling analyses.
type DecouplingAnalyzer interface {
	Analyze(ctx context.Context, req services.AnalysisRequest) (*services.DecouplingReport, error)
	Thresholds() analysis.Thresholds
}

// AssetLister lists the assets a price source can serve.
type AssetLister interface {
	ListAssets(ctx context.Context) ([]analysis.AssetID, error)
}

// ErrorResponse is the body of every failed analysis request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Asset    string `json:"asset,omitempty"`
	Required int    `json:"required,omitempty"`
	Actual   int    `json:"actual,omitempty"`
}

// DefaultsResponse describes the analysis a bare request runs.
type DefaultsResponse struct {
	Benchmark    analysis.AssetID    `json:"benchmark"`
	Assets       []analysis.AssetID  `json:"assets"`
	Window       int                 `json:"window"`
	LookbackDays int                 `json:"lookback_days"`
	Thresholds   analysis.Thresholds `json:"thresholds"`
	MinWindow    int                 `json:"min_window"`
}

// AnalysisHandler serves the decoupling analysis endpoints.
type AnalysisHandler struct {
	service  DecouplingAnalyzer
	assets   AssetLister
	defaults config.AnalysisConfig
	timeout  time.Duration
	logger   logrus.FieldLogger
}

// NewAnalysisHandler creates a new analysis handler. assets may be nil, in
// which case the configured asset list is served. A zero timeout disables
// the per-request deadline.
func NewAnalysisHandler(service DecouplingAnalyzer, assets AssetLister, defaults config.AnalysisConfig, timeout time.Duration, logger logrus.FieldLogger) *AnalysisHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AnalysisHandler{
		service:  service,
		assets:   assets,
		defaults: defaults,
		timeout:  timeout,
		logger:   logger,
	}
}

// GetDecoupling runs an analysis.
//
// Query parameters (all optional): benchmark, assets (comma separated),
// window, lookback_days, upper, lower.
func (h *AnalysisHandler) GetDecoupling(c *gin.Context) {
	req, err := h.parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	middleware.AddSpanAttribute(c, "analysis.benchmark", string(req.Benchmark))
	middleware.AddSpanAttribute(c, "analysis.window", req.Window)

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	report, err := h.service.Analyze(ctx, req)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			middleware.RecordError(c, err, "decoupling analysis failed")
			h.logger.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Error("Decoupling analysis failed")
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetDefaults returns the defaults a request without parameters uses.
func (h *AnalysisHandler) GetDefaults(c *gin.Context) {
	c.JSON(http.StatusOK, DefaultsResponse{
		Benchmark:    analysis.AssetID(h.defaults.Benchmark),
		Assets:       h.defaults.AssetIDs(),
		Window:       h.defaults.Window,
		LookbackDays: h.defaults.LookbackDays,
		Thresholds:   h.service.Thresholds(),
		MinWindow:    analysis.MinWindow,
	})
}

// GetAssets lists the assets available for analysis.
func (h *AnalysisHandler) GetAssets(c *gin.Context) {
	if h.assets == nil {
		c.JSON(http.StatusOK, gin.H{"assets": h.defaults.AssetIDs()})
		return
	}

	assets, err := h.assets.ListAssets(c.Request.Context())
	if err != nil {
		middleware.RecordError(c, err, "failed to list assets")
		h.logger.WithError(err).Error("Failed to list assets")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to list assets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

func (h *AnalysisHandler) parseRequest(c *gin.Context) (services.AnalysisRequest, error) {
	req := services.AnalysisRequest{
		Benchmark:    analysis.AssetID(strings.TrimSpace(h.defaults.Benchmark)),
		Assets:       h.defaults.AssetIDs(),
		Window:       h.defaults.Window,
		LookbackDays: h.defaults.LookbackDays,
	}

	if benchmark := strings.TrimSpace(c.Query("benchmark")); benchmark != "" {
		req.Benchmark = analysis.AssetID(benchmark)
	}
	if raw := c.Query("assets"); raw != "" {
		req.Assets = splitAssets(raw)
	}

	var err error
	if req.Window, err = intQuery(c, "window", req.Window); err != nil {
		return req, err
	}
	if req.LookbackDays, err = intQuery(c, "lookback_days", req.LookbackDays); err != nil {
		return req, err
	}
	if req.LookbackDays <= 0 {
		return req, fmt.Errorf("lookback_days must be positive, got %d", req.LookbackDays)
	}

	_, hasUpper := c.GetQuery("upper")
	_, hasLower := c.GetQuery("lower")
	if hasUpper || hasLower {
		thresholds := h.service.Thresholds()
		if thresholds.Upper, err = floatQuery(c, "upper", thresholds.Upper); err != nil {
			return req, err
		}
		if thresholds.Lower, err = floatQuery(c, "lower", thresholds.Lower); err != nil {
			return req, err
		}
		req.Thresholds = &thresholds
	}

	return req, nil
}

func splitAssets(raw string) []analysis.AssetID {
	var assets []analysis.AssetID
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			assets = append(assets, analysis.AssetID(part))
		}
	}
	return assets
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func floatQuery(c *gin.Context, key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, raw)
	}
	return v, nil
}

// errorResponse maps a service error to an HTTP status and body. Caller
// mistakes are 400s, data that cannot support the analysis is a 422.
func errorResponse(err error) (int, ErrorResponse) {
	var analysisErr *analysis.Error
	if errors.As(err, &analysisErr) {
		body := ErrorResponse{
			Error:    analysis.KindName(analysisErr),
			Message:  analysisErr.Error(),
			Asset:    string(analysisErr.Asset),
			Required: analysisErr.Required,
			Actual:   analysisErr.Actual,
		}
		switch {
		case errors.Is(err, analysis.ErrInsufficientData), errors.Is(err, analysis.ErrEmptySeries):
			return http.StatusUnprocessableEntity, body
		default:
			return http.StatusBadRequest, body
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "timeout", Message: "analysis did not finish before the request deadline"}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "canceled", Message: "analysis was canceled"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "analysis failed"}
	}
}
