package cli

import (
	"fmt"
	"time"

	"optionsfi-keeper/internal/pricefeed"
	"optionsfi-keeper/internal/pricing"
	"optionsfi-keeper/internal/state/sqlite"
	"optionsfi-keeper/internal/vault"
	"optionsfi-keeper/internal/volatility"

	"github.com/spf13/cobra"
)

var quoteNotional uint64

var priceCmd = &cobra.Command{
	Use:   "price <asset>",
	Short: "Fetch the latest oracle price for a vault's underlying",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := findVault(args[0])
		if err != nil {
			return err
		}
		hermes := pricefeed.NewHermes(cfg.PriceFeed.HermesURL, cfg.PriceFeed.Timeout, cfg.PriceFeed.Retries, cfg.PriceFeed.RetryDelay, log)
		q, err := hermes.Latest(cmd.Context(), v.PriceFeedID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %.6f ±%.6f at %s\n", v.AssetID, q.Price, q.Confidence, q.PublishTime.UTC().Format(time.RFC3339))
		return nil
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote <asset>",
	Short: "Price the next epoch's covered call without running an auction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := findVault(args[0])
		if err != nil {
			return err
		}
		store, err := sqlite.New(cfg.State.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()

		hermes := pricefeed.NewHermes(cfg.PriceFeed.HermesURL, cfg.PriceFeed.Timeout, cfg.PriceFeed.Retries, cfg.PriceFeed.RetryDelay, log)
		spot, err := hermes.Latest(cmd.Context(), v.PriceFeedID)
		if err != nil {
			return err
		}
		engine := volatility.NewEngine(pricefeed.NewHistory(store), pricefeed.NewYahoo(cfg.PriceFeed.YahooURL, cfg.PriceFeed.Timeout, log), volatility.Options{
			OnChainWeight:     cfg.Volatility.OnChainWeight,
			OffChainWeight:    cfg.Volatility.OffChainWeight,
			MinSamples:        cfg.Volatility.MinSamples,
			OnChainAdjustment: cfg.Volatility.OnChainAdjustment,
		}, log)
		est, err := engine.Estimate(cmd.Context(), volatility.Asset{Mint: v.Mint, Ticker: v.Ticker}, cfg.Keeper.VolatilityLookbackDays)
		if err != nil {
			return err
		}
		pricer := pricing.NewEngine(cfg.Keeper.RiskFreeRate, cfg.Keeper.StrikeDeltaBps, cfg.Keeper.EpochDurationDays)
		res := pricer.Price(spot.Price, est.Volatility, est.Divergence)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "spot:         %.6f\n", spot.Price)
		fmt.Fprintf(out, "strike:       %.6f\n", res.Strike)
		fmt.Fprintf(out, "expiry:       %s\n", pricer.Expiry(time.Now()).UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "volatility:   %.4f (onchain %.4f, offchain %.4f, fallback %t)\n", est.Volatility, est.OnChain, est.OffChain, est.Fallback)
		fmt.Fprintf(out, "divergence:   %.4f (%s)\n", est.Divergence, est.Recommendation)
		fmt.Fprintf(out, "premium:      %.6f per token (%d bps)\n", res.TheoreticalPremium, res.PremiumBps)
		fmt.Fprintf(out, "delta:        %.4f\n", res.Delta)
		if quoteNotional > 0 {
			total := res.TheoreticalPremium * vault.FromBaseUnits(quoteNotional, cfg.Keeper.TokenDecimals)
			fmt.Fprintf(out, "total:        %.6f for %d base units\n", total, quoteNotional)
		}
		return nil
	},
}

func init() {
	quoteCmd.Flags().Uint64Var(&quoteNotional, "notional", 0, "Notional in base units of the underlying")
}
