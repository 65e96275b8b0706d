package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/shopspring/decimal"
)

// PriceObservation is one stored closing price.
type PriceObservation struct {
	Asset      analysis.AssetID `json:"asset" db:"asset"`
	ObservedAt time.Time        `json:"observed_at" db:"observed_at"`
	Close      decimal.Decimal  `json:"close" db:"close"`
}

// PriceRepository reads and writes closing prices in asset_prices.
type PriceRepository struct {
	pool DatabasePool
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(pool DatabasePool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

const createAssetPricesTable = `
	CREATE TABLE IF NOT EXISTS asset_prices (
		asset       TEXT        NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL,
		close       NUMERIC(30, 12) NOT NULL CHECK (close > 0),
		PRIMARY KEY (asset, observed_at)
	)
`

// EnsureSchema creates the asset_prices table when it does not exist.
func (r *PriceRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createAssetPricesTable); err != nil {
		return fmt.Errorf("failed to create asset_prices table: %w", err)
	}
	return nil
}

// UpsertPrices stores observations in a single transaction, replacing any
// existing close for the same asset and timestamp. It returns the number of
// rows written; on error nothing is written.
func (r *PriceRepository) UpsertPrices(ctx context.Context, observations []PriceObservation) (written int64, err error) {
	query := `
		INSERT INTO asset_prices (asset, observed_at, close)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset, observed_at)
		DO UPDATE SET close = EXCLUDED.close
	`

	for _, obs := range observations {
		if !obs.Close.IsPositive() {
			return 0, fmt.Errorf("close for %s at %s must be positive, got %s",
				obs.Asset, obs.ObservedAt.Format(time.RFC3339), obs.Close.String())
		}
	}
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, obs := range observations {
		tag, execErr := tx.Exec(ctx, query, string(obs.Asset), obs.ObservedAt.UTC(), obs.Close)
		if execErr != nil {
			return 0, fmt.Errorf("failed to upsert price for %s: %w", obs.Asset, execErr)
		}
		written += tag.RowsAffected()
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return written, nil
}

// ListAssets returns every asset with at least one stored price.
func (r *PriceRepository) ListAssets(ctx context.Context) ([]analysis.AssetID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT asset FROM asset_prices ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []analysis.AssetID
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, analysis.AssetID(asset))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

// LoadPriceTable pivots the closes of assets over the lookbackDays ending at
// now into a PriceTable. Columns follow the order of assets; a timestamp at
// which an asset has no close becomes a missing cell.
func (r *PriceRepository) LoadPriceTable(ctx context.Context, assets []analysis.AssetID, lookbackDays int, now time.Time) (*analysis.PriceTable, error) {
	if len(assets) == 0 {
		return nil, errors.New("at least one asset is required")
	}
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("lookback days must be positive, got %d", lookbackDays)
	}

	names := make([]string, len(assets))
	for i, asset := range assets {
		names[i] = string(asset)
	}
	since := now.AddDate(0, 0, -lookbackDays)

	query := `
		SELECT asset, observed_at, close
		FROM asset_prices
		WHERE asset = ANY($1) AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at ASC, asset ASC
	`

	rows, err := r.pool.Query(ctx, query, names, since, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset prices: %w", err)
	}
	defer rows.Close()

	var observations []PriceObservation
	for rows.Next() {
		var (
			asset      string
			observedAt time.Time
			closePrice decimal.Decimal
		)
		if err := rows.Scan(&asset, &observedAt, &closePrice); err != nil {
			return nil, fmt.Errorf("failed to scan asset price: %w", err)
		}
		observations = append(observations, PriceObservation{
			Asset:      analysis.AssetID(asset),
			ObservedAt: observedAt,
			Close:      closePrice,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset prices: %w", err)
	}

	return PivotPrices(assets, observations)
}

// PivotPrices turns long-format observations into a PriceTable with one
// column per asset. Observations for assets not listed are ignored.
func PivotPrices(assets []analysis.AssetID, observations []PriceObservation) (*analysis.PriceTable, error) {
	wanted := make(map[analysis.AssetID]bool, len(assets))
	for _, asset := range assets {
		wanted[asset] = true
	}

	index := make(map[int64]int)
	var timestamps []time.Time
	for _, obs := range observations {
		if !wanted[obs.Asset] {
			continue
		}
		ts := obs.ObservedAt.UTC()
		if _, ok := index[ts.UnixNano()]; !ok {
			index[ts.UnixNano()] = len(timestamps)
			timestamps = append(timestamps, ts)
		}
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
	for i, ts := range timestamps {
		index[ts.UnixNano()] = i
	}

	prices := make(map[analysis.AssetID][]float64, len(assets))
	for _, asset := range assets {
		column := make([]float64, len(timestamps))
		for i := range column {
			column[i] = math.NaN()
		}
		prices[asset] = column
	}

	for _, obs := range observations {
		column, ok := prices[obs.Asset]
		if !ok {
			continue
		}
		f, _ := obs.Close.Float64()
		column[index[obs.ObservedAt.UTC().UnixNano()]] = f
	}

	return analysis.NewPriceTable(timestamps, assets, prices)
}

// ObservationsFromTable flattens a PriceTable into observations, skipping
// missing and non-positive cells. It is the inverse of PivotPrices.
func ObservationsFromTable(table *analysis.PriceTable) []PriceObservation {
	if table == nil {
		return nil
	}
	observations := make([]PriceObservation, 0, table.Rows()*len(table.Assets))
	for _, asset := range table.Assets {
		for i, p := range table.Prices[asset] {
			if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
				continue
			}
			observations = append(observations, PriceObservation{
				Asset:      asset,
				ObservedAt: table.Timestamps[i],
				Close:      decimal.NewFromFloat(p),
			})
		}
	}
	return observations
}
