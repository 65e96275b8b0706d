package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/irfndi/decoupling-detector/internal/pricefile"
	"github.com/irfndi/decoupling-detector/internal/services"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type analyzeOptions struct {
	file      string
	benchmark string
	assets    []string
	window    int
	lookback  int
	upper     float64
	lower     float64
	json      bool
}

func newAnalyzeCmd(global *globalOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a decoupling analysis",
		Long: `Run a decoupling analysis and print the regime of every asset.

Flags that are not set fall back to the analysis section of the
configuration (configs/config.yaml or ANALYSIS_* environment variables).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, global, opts)
		},
	}

	addAnalyzeFlags(cmd.Flags(), opts)
	return cmd
}

func addAnalyzeFlags(flags *pflag.FlagSet, opts *analyzeOptions) {
	flags.StringVarP(&opts.file, "file", "f", "", "CSV price file (default: database)")
	flags.StringVarP(&opts.benchmark, "benchmark", "b", "", "Benchmark asset")
	flags.StringSliceVarP(&opts.assets, "assets", "a", nil, "Comma-separated assets to analyze, benchmark included")
	flags.IntVarP(&opts.window, "window", "w", 0, "Rolling correlation window in return rows")
	flags.IntVar(&opts.lookback, "lookback", 0, "Days of history to load")
	flags.Float64Var(&opts.upper, "upper", 0, "Correlation above which an asset is in lockstep")
	flags.Float64Var(&opts.lower, "lower", 0, "Correlation below which an asset is decoupled")
	flags.BoolVar(&opts.json, "json", false, "Print the full report as JSON")
}

// request merges the flags that were set over the configured defaults.
func (o *analyzeOptions) request(flags *pflag.FlagSet, defaults config.AnalysisConfig) (services.AnalysisRequest, error) {
	req := services.AnalysisRequest{
		Benchmark:    analysis.AssetID(defaults.Benchmark),
		Assets:       defaults.AssetIDs(),
		Window:       defaults.Window,
		LookbackDays: defaults.LookbackDays,
	}
	if flags.Changed("benchmark") {
		req.Benchmark = analysis.AssetID(strings.TrimSpace(o.benchmark))
	}
	if flags.Changed("assets") {
		req.Assets = nil
		for _, asset := range o.assets {
			if asset = strings.TrimSpace(asset); asset != "" {
				req.Assets = append(req.Assets, analysis.AssetID(asset))
			}
		}
	}
	if flags.Changed("window") {
		req.Window = o.window
	}
	if flags.Changed("lookback") {
		req.LookbackDays = o.lookback
	}
	if req.LookbackDays <= 0 {
		return req, fmt.Errorf("lookback must be positive, got %d", req.LookbackDays)
	}
	if flags.Changed("upper") || flags.Changed("lower") {
		thresholds := analysis.Thresholds{Upper: defaults.UpperThreshold, Lower: defaults.LowerThreshold}
		if flags.Changed("upper") {
			thresholds.Upper = o.upper
		}
		if flags.Changed("lower") {
			thresholds.Lower = o.lower
		}
		req.Thresholds = &thresholds
	}
	return req, nil
}

func runAnalyze(cmd *cobra.Command, global *globalOptions, opts *analyzeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg, global, cmd.ErrOrStderr())

	req, err := opts.request(cmd.Flags(), cfg.Analysis)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, global)
	defer cancel()

	var source services.PriceSource
	file := opts.file
	if file == "" {
		file = cfg.Analysis.PriceFile
	}
	if file != "" {
		fileSource, err := pricefile.OpenSource(file)
		if err != nil {
			return err
		}
		source = fileSource
	} else {
		db, repo, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		source = repo
	}

	thresholds, err := cfg.Analysis.Thresholds()
	if err != nil {
		return err
	}
	analyzer, err := analysis.NewAnalyzer(thresholds)
	if err != nil {
		return err
	}

	report, err := services.NewDecouplingService(source, analyzer, nil, logger).Analyze(ctx, req)
	if err != nil {
		return err
	}

	if opts.json {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return printReport(cmd.OutOrStdout(), report)
}

func printReport(out io.Writer, report *services.DecouplingReport) error {
	fmt.Fprintf(out, "Benchmark %s, window %d, lookback %d days\n", report.Benchmark, report.Window, report.LookbackDays)
	fmt.Fprintf(out, "Thresholds: decoupled < %.2f, lockstep > %.2f\n", report.Thresholds.Lower, report.Thresholds.Upper)
	fmt.Fprintf(out, "Aligned return rows: %d (%d dropped for gaps)\n\n", report.SampleRows, report.DroppedRows)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tCORRELATION\tREGIME")
	for _, summary := range report.Summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", summary.Asset, formatValue(summary.LatestCorrelation, "%.4f"), summary.Regime)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Performance) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ASSET\tCUMULATIVE\tMEAN RETURN")
		for _, perf := range report.Performance {
			fmt.Fprintf(w, "%s\t%s\t%s\n", perf.Asset, formatPercent(perf.CumulativeReturn), formatPercent(perf.MeanReturn))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if m := report.Matrix; m != nil && len(m.Assets) > 0 {
		fmt.Fprintln(out)
		if m.Truncated() {
			fmt.Fprintf(out, "Correlation matrix over %d rows (window %d exceeds history)\n", m.SampleSize, m.Window)
		} else {
			fmt.Fprintf(out, "Correlation matrix over the last %d rows\n", m.SampleSize)
		}
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprint(w, "\t")
		for _, asset := range m.Assets {
			fmt.Fprintf(w, "%s\t", asset)
		}
		fmt.Fprintln(w)
		for i, asset := range m.Assets {
			fmt.Fprintf(w, "%s\t", asset)
			for j := range m.Assets {
				fmt.Fprintf(w, "%s\t", formatValue(m.Values[i][j], "%.2f"))
			}
			fmt.Fprintln(w)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v analysis.Value, format string) string {
	if !v.Defined {
		return "n/a"
	}
	return fmt.Sprintf(format, v.Float)
}

func formatPercent(v analysis.Value) string {
	if !v.Defined {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", v.Float*100)
}
