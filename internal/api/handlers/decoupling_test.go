package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/irfndi/decoupling-detector/internal/pricefile"
	"github.com/irfndi/decoupling-detector/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDecouplingAnalyzer mocks DecouplingAnalyzer
type MockDecouplingAnalyzer struct {
	mock.Mock
}

func (m *MockDecouplingAnalyzer) Analyze(ctx context.Context, req services.AnalysisRequest) (*services.DecouplingReport, error) {
	args := m.Called(ctx, req)
	if report := args.Get(0); report != nil {
		return report.(*services.DecouplingReport), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDecouplingAnalyzer) Thresholds() analysis.Thresholds {
	return analysis.DefaultThresholds()
}

// MockAssetLister mocks AssetLister
type MockAssetLister struct {
	mock.Mock
}

func (m *MockAssetLister) ListAssets(ctx context.Context) ([]analysis.AssetID, error) {
	args := m.Called(ctx)
	if assets := args.Get(0); assets != nil {
		return assets.([]analysis.AssetID), args.Error(1)
	}
	return nil, args.Error(1)
}

func testDefaults() config.AnalysisConfig {
	return config.AnalysisConfig{
		Benchmark:      "BTC-USD",
		Assets:         []string{"BTC-USD", "ETH-USD", "SOL-USD"},
		Window:         30,
		LookbackDays:   90,
		UpperThreshold: 0.8,
		LowerThreshold: 0.5,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRouter(h *AnalysisHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/analysis/decoupling", h.GetDecoupling)
	router.GET("/analysis/defaults", h.GetDefaults)
	router.GET("/assets", h.GetAssets)
	return router
}

func serve(router *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestAnalysisHandler_GetDecoupling_ParsesRequest(t *testing.T) {
	custom := analysis.Thresholds{Upper: 0.9, Lower: 0.5}
	tests := []struct {
		name     string
		query    string
		expected services.AnalysisRequest
	}{
		{
			name:  "defaults",
			query: "",
			expected: services.AnalysisRequest{
				Benchmark:    "BTC-USD",
				Assets:       []analysis.AssetID{"BTC-USD", "ETH-USD", "SOL-USD"},
				Window:       30,
				LookbackDays: 90,
			},
		},
		{
			name:  "explicit selection",
			query: "?benchmark=ETH-USD&assets=ETH-USD,%20DOGE-USD,,&window=7&lookback_days=14",
			expected: services.AnalysisRequest{
				Benchmark:    "ETH-USD",
				Assets:       []analysis.AssetID{"ETH-USD", "DOGE-USD"},
				Window:       7,
				LookbackDays: 14,
			},
		},
		{
			name:  "one threshold keeps the other default",
			query: "?upper=0.9",
			expected: services.AnalysisRequest{
				Benchmark:    "BTC-USD",
				Assets:       []analysis.AssetID{"BTC-USD", "ETH-USD", "SOL-USD"},
				Window:       30,
				LookbackDays: 90,
				Thresholds:   &custom,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockDecouplingAnalyzer{}
			report := &services.DecouplingReport{Result: &analysis.Result{Benchmark: tt.expected.Benchmark}, LookbackDays: tt.expected.LookbackDays}
			service.On("Analyze", mock.Anything, tt.expected).Return(report, nil)

			router := newTestRouter(NewAnalysisHandler(service, nil, testDefaults(), time.Second, quietLogger()))
			w := serve(router, "/analysis/decoupling"+tt.query)

			assert.Equal(t, http.StatusOK, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, string(tt.expected.Benchmark), body["benchmark"])
			service.AssertExpectations(t)
		})
	}
}

func TestAnalysisHandler_GetDecoupling_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric window", "?window=abc"},
		{"non-numeric lookback", "?lookback_days=1.5"},
		{"zero lookback", "?lookback_days=0"},
		{"non-numeric threshold", "?lower=low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockDecouplingAnalyzer{}
			router := newTestRouter(NewAnalysisHandler(service, nil, testDefaults(), time.Second, quietLogger()))

			w := serve(router, "/analysis/decoupling"+tt.query)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "invalid_request", body.Error)
			service.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
		})
	}
}

func TestAnalysisHandler_GetDecoupling_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		kind     string
		asset    string
		required int
		actual   int
	}{
		{
			name:   "invalid selection",
			err:    &analysis.Error{Kind: analysis.ErrInvalidSelection, Asset: "XRP-USD", Message: "no price data for selected asset"},
			status: http.StatusBadRequest,
			kind:   "invalid_selection",
			asset:  "XRP-USD",
		},
		{
			name:     "invalid window",
			err:      &analysis.Error{Kind: analysis.ErrInvalidWindow, Required: 1, Actual: 10},
			status:   http.StatusBadRequest,
			kind:     "invalid_window",
			required: 1,
			actual:   10,
		},
		{
			name:   "invalid thresholds",
			err:    &analysis.Error{Kind: analysis.ErrInvalidConfiguration, Message: "bad thresholds"},
			status: http.StatusBadRequest,
			kind:   "invalid_configuration",
		},
		{
			name:     "insufficient data behind a wrap",
			err:      fmt.Errorf("failed to load prices: %w", &analysis.Error{Kind: analysis.ErrInsufficientData, Required: 2, Actual: 1}),
			status:   http.StatusUnprocessableEntity,
			kind:     "insufficient_data",
			required: 2,
			actual:   1,
		},
		{
			name:   "empty series",
			err:    &analysis.Error{Kind: analysis.ErrEmptySeries, Asset: "GHOST"},
			status: http.StatusUnprocessableEntity,
			kind:   "empty_series",
			asset:  "GHOST",
		},
		{
			name:   "deadline",
			err:    fmt.Errorf("analysis not started: %w", context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
			kind:   "timeout",
		},
		{
			name:   "canceled",
			err:    context.Canceled,
			status: http.StatusServiceUnavailable,
			kind:   "canceled",
		},
		{
			name:   "unexpected",
			err:    errors.New("connection reset by peer"),
			status: http.StatusInternalServerError,
			kind:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockDecouplingAnalyzer{}
			service.On("Analyze", mock.Anything, mock.Anything).Return(nil, tt.err)
			router := newTestRouter(NewAnalysisHandler(service, nil, testDefaults(), time.Second, quietLogger()))

			w := serve(router, "/analysis/decoupling")

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Error)
			assert.Equal(t, tt.asset, body.Asset)
			assert.Equal(t, tt.required, body.Required)
			assert.Equal(t, tt.actual, body.Actual)
			assert.NotEmpty(t, body.Message)
			assert.NotContains(t, body.Message, "connection reset")
		})
	}
}

func TestAnalysisHandler_GetDecoupling_AppliesTimeout(t *testing.T) {
	service := &MockDecouplingAnalyzer{}
	service.On("Analyze", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= 50*time.Millisecond
	}), mock.Anything).Return(&services.DecouplingReport{Result: &analysis.Result{}}, nil)

	router := newTestRouter(NewAnalysisHandler(service, nil, testDefaults(), 50*time.Millisecond, quietLogger()))
	w := serve(router, "/analysis/decoupling")

	assert.Equal(t, http.StatusOK, w.Code)
	service.AssertExpectations(t)
}

func TestAnalysisHandler_GetDecoupling_EndToEnd(t *testing.T) {
	csv := "timestamp,BTC-USD,ETH-USD,SOL-USD\n"
	btc := []float64{100, 102, 101, 105, 104, 108, 107, 111}
	eth := []float64{50, 51, 50.5, 52.4, 52, 54, 53.6, 55.4}
	sol := []float64{20, 19.5, 21, 20, 22, 21, 23, 22}
	for i := range btc {
		csv += fmt.Sprintf("2024-01-%02d,%g,%g,%g\n", i+1, btc[i], eth[i], sol[i])
	}
	table, err := pricefile.Read(strings.NewReader(csv))
	require.NoError(t, err)
	source := pricefile.NewSource(table)

	analyzer, err := analysis.NewAnalyzer(analysis.DefaultThresholds())
	require.NoError(t, err)
	service := services.NewDecouplingService(source, analyzer, nil, quietLogger())

	router := newTestRouter(NewAnalysisHandler(service, source, testDefaults(), time.Second, quietLogger()))

	w := serve(router, "/analysis/decoupling?window=5&lookback_days=30")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Benchmark string `json:"benchmark"`
		Summaries []struct {
			Asset             string   `json:"asset"`
			LatestCorrelation *float64 `json:"latest_correlation"`
			Regime            string   `json:"regime"`
		} `json:"summaries"`
		SampleRows   int `json:"sample_rows"`
		LookbackDays int `json:"lookback_days"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "BTC-USD", body.Benchmark)
	assert.Equal(t, 7, body.SampleRows)
	assert.Equal(t, 30, body.LookbackDays)
	require.Len(t, body.Summaries, 2)
	assert.Equal(t, "ETH-USD", body.Summaries[0].Asset)
	require.NotNil(t, body.Summaries[0].LatestCorrelation)
	assert.Equal(t, "lockstep", body.Summaries[0].Regime)

	w = serve(router, "/analysis/decoupling?window=30")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Nil(t, body.Summaries[0].LatestCorrelation)
	assert.Equal(t, "undefined", body.Summaries[0].Regime)

	w = serve(router, "/analysis/decoupling?assets=BTC-USD,XRP-USD")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"asset":"XRP-USD"`)

	w = serve(router, "/analysis/decoupling?upper=0.4&lower=0.6")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"invalid_configuration"`)
}

func TestAnalysisHandler_GetDefaults(t *testing.T) {
	router := newTestRouter(NewAnalysisHandler(&MockDecouplingAnalyzer{}, nil, testDefaults(), time.Second, quietLogger()))

	w := serve(router, "/analysis/defaults")

	assert.Equal(t, http.StatusOK, w.Code)
	var body DefaultsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, analysis.AssetID("BTC-USD"), body.Benchmark)
	assert.Equal(t, 30, body.Window)
	assert.Equal(t, analysis.DefaultThresholds(), body.Thresholds)
	assert.Equal(t, analysis.MinWindow, body.MinWindow)
}

func TestAnalysisHandler_GetAssets(t *testing.T) {
	t.Run("configured list without a lister", func(t *testing.T) {
		router := newTestRouter(NewAnalysisHandler(&MockDecouplingAnalyzer{}, nil, testDefaults(), time.Second, quietLogger()))
		w := serve(router, "/assets")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"assets":["BTC-USD","ETH-USD","SOL-USD"]}`, w.Body.String())
	})

	t.Run("from lister", func(t *testing.T) {
		lister := &MockAssetLister{}
		lister.On("ListAssets", mock.Anything).Return([]analysis.AssetID{"ADA-USD", "BTC-USD"}, nil)
		router := newTestRouter(NewAnalysisHandler(&MockDecouplingAnalyzer{}, lister, testDefaults(), time.Second, quietLogger()))
		w := serve(router, "/assets")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"assets":["ADA-USD","BTC-USD"]}`, w.Body.String())
	})

	t.Run("lister failure", func(t *testing.T) {
		lister := &MockAssetLister{}
		lister.On("ListAssets", mock.Anything).Return(nil, errors.New("db down"))
		router := newTestRouter(NewAnalysisHandler(&MockDecouplingAnalyzer{}, lister, testDefaults(), time.Second, quietLogger()))
		w := serve(router, "/assets")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "db down")
	})
}
