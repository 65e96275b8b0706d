package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/irfndi/decoupling-detector/internal/cache"
	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/irfndi/decoupling-detector/internal/database"
	"github.com/irfndi/decoupling-detector/internal/pricefile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newImportCmd(global *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a CSV price file into the database",
		Long: `Load a CSV price file into the asset_prices table.

The file has a timestamp (or date) column followed by one column per asset.
Existing prices for the same asset and timestamp are overwritten; empty and
NaN cells are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}

			table, err := pricefile.ReadFile(file)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := newLogger(cfg, global, cmd.ErrOrStderr())

			ctx, cancel := commandContext(cmd, global)
			defer cancel()

			db, repo, err := openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			written, err := repo.UpsertPrices(ctx, database.ObservationsFromTable(table))
			if err != nil {
				return err
			}

			if err := invalidatePriceCache(ctx, cfg.Redis, logger); err != nil {
				logger.WithError(err).Warn("Failed to clear price cache; cached tables expire on their own")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d prices for %d assets from %s\n", written, len(table.Assets), file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV price file to import")
	return cmd
}

func newAssetsCmd(global *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List the assets available for analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, global)
			defer cancel()

			var assets []analysis.AssetID
			if file != "" {
				source, err := pricefile.OpenSource(file)
				if err != nil {
					return err
				}
				if assets, err = source.ListAssets(ctx); err != nil {
					return err
				}
			} else {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				db, repo, err := openDatabase(ctx, cfg, newLogger(cfg, global, cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				defer db.Close()
				if assets, err = repo.ListAssets(ctx); err != nil {
					return err
				}
			}

			for _, asset := range assets {
				fmt.Fprintln(cmd.OutOrStdout(), asset)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "List the assets of a CSV price file instead of the database")
	return cmd
}

// invalidatePriceCache drops the server's cached price tables so the next
// analysis reads the imported prices. It does nothing when the cache is off.
func invalidatePriceCache(ctx context.Context, cfg config.RedisConfig, logger logrus.FieldLogger) error {
	if !cfg.Enabled {
		return nil
	}
	ttl, err := cfg.TTL()
	if err != nil {
		return err
	}
	client, err := database.NewRedisConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return cache.NewRedisPriceCache(client.Client, ttl, logger).Clear(ctx)
}
