package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prices = `timestamp,BTC-USD,ETH-USD,SOL-USD
2024-01-01,100,50,20
2024-01-02,102,51,19.5
2024-01-03,101,50.5,21
2024-01-04,105,52.4,20
2024-01-05,104,52,22
2024-01-06,108,54,21
2024-01-07,107,53.6,23
2024-01-08,111,55.4,22
`

func writePrices(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(prices), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeCommand_Table(t *testing.T) {
	path := writePrices(t)

	out, err := execute(t, "analyze", "--file", path, "--benchmark", "BTC-USD",
		"--assets", "BTC-USD,ETH-USD,SOL-USD", "--window", "5", "--lookback", "30")
	require.NoError(t, err)

	assert.Contains(t, out, "Benchmark BTC-USD, window 5, lookback 30 days")
	assert.Contains(t, out, "Aligned return rows: 7 (0 dropped for gaps)")
	assert.Regexp(t, `ETH-USD\s+0\.99\d\d\s+lockstep`, out)
	assert.Regexp(t, `SOL-USD\s+-0\.99\d\d\s+decoupled`, out)
	assert.Contains(t, out, "Correlation matrix over the last 5 rows")
	assert.Contains(t, out, "CUMULATIVE")
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	path := writePrices(t)

	out, err := execute(t, "analyze", "-f", path, "-a", "BTC-USD,ETH-USD", "-w", "30", "--json")
	require.NoError(t, err)

	var report struct {
		Benchmark string `json:"benchmark"`
		Summaries []struct {
			Asset             string   `json:"asset"`
			LatestCorrelation *float64 `json:"latest_correlation"`
			Regime            string   `json:"regime"`
		} `json:"summaries"`
		Matrix struct {
			SampleSize int `json:"sample_size"`
		} `json:"matrix"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "BTC-USD", report.Benchmark)
	require.Len(t, report.Summaries, 1)
	assert.Nil(t, report.Summaries[0].LatestCorrelation)
	assert.Equal(t, "undefined", report.Summaries[0].Regime)
	assert.Equal(t, 7, report.Matrix.SampleSize)
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	path := writePrices(t)

	_, err := execute(t, "analyze", "-f", path, "-a", "BTC-USD,ETH-USD", "-w", "1")
	assert.ErrorIs(t, err, analysis.ErrInvalidWindow)

	_, err = execute(t, "analyze", "-f", path, "-a", "BTC-USD,XRP-USD")
	assert.ErrorIs(t, err, analysis.ErrInvalidSelection)

	_, err = execute(t, "analyze", "-f", path, "-a", "BTC-USD,ETH-USD", "--upper", "0.3")
	assert.ErrorIs(t, err, analysis.ErrInvalidConfiguration)

	_, err = execute(t, "analyze", "-f", path, "--lookback", "0")
	assert.ErrorContains(t, err, "lookback must be positive")

	_, err = execute(t, "analyze", "-f", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestAssetsCommand_File(t *testing.T) {
	out, err := execute(t, "assets", "--file", writePrices(t))
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD\nETH-USD\nSOL-USD\n", out)
}

func TestImportCommand_RequiresFile(t *testing.T) {
	_, err := execute(t, "import")
	assert.ErrorContains(t, err, "--file is required")
}

func TestAnalyzeOptions_Request(t *testing.T) {
	defaults := config.AnalysisConfig{
		Benchmark:      "BTC-USD",
		Assets:         []string{"BTC-USD", "ETH-USD"},
		Window:         30,
		LookbackDays:   90,
		UpperThreshold: 0.8,
		LowerThreshold: 0.5,
	}

	tests := []struct {
		name     string
		args     []string
		expected func(r *analysisRequestView)
	}{
		{
			name: "defaults",
			args: nil,
			expected: func(r *analysisRequestView) {
				r.benchmark = "BTC-USD"
				r.assets = []analysis.AssetID{"BTC-USD", "ETH-USD"}
				r.window = 30
				r.lookback = 90
			},
		},
		{
			name: "overrides",
			args: []string{"-b", "ETH-USD", "-a", "ETH-USD, SOL-USD", "-w", "7", "--lookback", "14", "--lower", "0.2"},
			expected: func(r *analysisRequestView) {
				r.benchmark = "ETH-USD"
				r.assets = []analysis.AssetID{"ETH-USD", "SOL-USD"}
				r.window = 7
				r.lookback = 14
				r.thresholds = &analysis.Thresholds{Upper: 0.8, Lower: 0.2}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &analyzeOptions{}
			flags := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
			addAnalyzeFlags(flags, opts)
			require.NoError(t, flags.Parse(tt.args))

			req, err := opts.request(flags, defaults)
			require.NoError(t, err)

			var want analysisRequestView
			tt.expected(&want)
			assert.Equal(t, want.benchmark, req.Benchmark)
			assert.Equal(t, want.assets, req.Assets)
			assert.Equal(t, want.window, req.Window)
			assert.Equal(t, want.lookback, req.LookbackDays)
			assert.Equal(t, want.thresholds, req.Thresholds)
		})
	}
}

type analysisRequestView struct {
	benchmark  analysis.AssetID
	assets     []analysis.AssetID
	window     int
	lookback   int
	thresholds *analysis.Thresholds
}

func TestInvalidatePriceCache(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)
	require.NoError(t, s.Set("price_table:BTC-USD,ETH-USD:90:1704276000", "{}"))
	require.NoError(t, s.Set("unrelated", "kept"))

	disabled := config.RedisConfig{Host: s.Host(), Port: port, CacheTTL: "5m"}
	require.NoError(t, invalidatePriceCache(context.Background(), disabled, logger))
	assert.True(t, s.Exists("price_table:BTC-USD,ETH-USD:90:1704276000"))

	enabled := disabled
	enabled.Enabled = true
	require.NoError(t, invalidatePriceCache(context.Background(), enabled, logger))
	assert.False(t, s.Exists("price_table:BTC-USD,ETH-USD:90:1704276000"))
	assert.True(t, s.Exists("unrelated"))

	s.Close()
	assert.Error(t, invalidatePriceCache(context.Background(), enabled, logger))
}
