// Package pricefile reads wide-format price CSV files:
//
//	timestamp,BTC-USD,ETH-USD
//	2024-01-01,42000.5,2500
//	2024-01-02,43010,
//
// The first column holds RFC 3339 or YYYY-MM-DD timestamps. Empty, "NaN"
// and "null" cells are missing prices.
package pricefile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
)

const dateLayout = "2006-01-02"

type row struct {
	line      int
	timestamp time.Time
	values    []float64
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string) (*analysis.PriceTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()

	table, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// Read parses a price CSV into a PriceTable. Rows may appear in any order;
// they are sorted by timestamp and a repeated timestamp is an error.
func Read(r io.Reader) (*analysis.PriceTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("price file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, errors.New("header needs a timestamp column and at least one asset column")
	}

	assets := make([]analysis.AssetID, 0, len(header)-1)
	for _, name := range header[1:] {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("header contains an empty asset name")
		}
		assets = append(assets, analysis.AssetID(name))
	}

	var rows []row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		line, _ := reader.FieldPos(0)

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		values := make([]float64, len(assets))
		for i, cell := range record[1:] {
			v, err := parsePrice(cell)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", line, assets[i], err)
			}
			values[i] = v
		}
		rows = append(rows, row{line: line, timestamp: ts, values: values})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].timestamp.Before(rows[j].timestamp) })

	timestamps := make([]time.Time, len(rows))
	prices := make(map[analysis.AssetID][]float64, len(assets))
	for _, asset := range assets {
		prices[asset] = make([]float64, len(rows))
	}
	for i, rw := range rows {
		if i > 0 && rw.timestamp.Equal(rows[i-1].timestamp) {
			return nil, fmt.Errorf("line %d: duplicate timestamp %s", rw.line, rw.timestamp.Format(time.RFC3339))
		}
		timestamps[i] = rw.timestamp
		for j, asset := range assets {
			prices[asset][i] = rw.values[j]
		}
	}

	return analysis.NewPriceTable(timestamps, assets, prices)
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(dateLayout, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func parsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "nan", "null", "na":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", raw)
	}
	return v, nil
}
