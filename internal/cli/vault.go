package cli

import (
	"fmt"
	"time"

	"optionsfi-keeper/internal/config"
	"optionsfi-keeper/internal/guard"
	"optionsfi-keeper/internal/metrics"
	"optionsfi-keeper/internal/solvency"
	"optionsfi-keeper/internal/vault"

	"github.com/spf13/cobra"
)

var solvencyFix bool

var stateCmd = &cobra.Command{
	Use:   "state <asset>",
	Short: "Print the on-chain vault record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := findVault(args[0]); err != nil {
			return err
		}
		client := vault.NewHTTPClient(cfg.Chain.BaseURL, cfg.Chain.Timeout, log)
		st, err := client.GetVaultState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		capacity := vault.NewCapacityEvaluator(cfg.Keeper.UtilizationSafetyMarginBps, cfg.Keeper.MinTradeableNotional).Evaluate(st)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "asset:            %s\n", st.AssetID)
		fmt.Fprintf(out, "address:          %s\n", st.Address)
		fmt.Fprintf(out, "epoch:            %d\n", st.Epoch)
		fmt.Fprintf(out, "paused:           %t\n", st.IsPaused)
		fmt.Fprintf(out, "total assets:     %d\n", st.TotalAssets)
		fmt.Fprintf(out, "total shares:     %d\n", st.TotalShares)
		fmt.Fprintf(out, "premium balance:  %d\n", st.PremiumBalance)
		fmt.Fprintf(out, "epoch premium:    %d\n", st.EpochPremiumEarned)
		fmt.Fprintf(out, "exposed:          %d\n", st.EpochNotionalExposed)
		fmt.Fprintf(out, "utilization cap:  %d bps\n", st.UtilizationCapBps)
		fmt.Fprintf(out, "available:        %d (tradeable %t)\n", capacity.Available, capacity.OK)
		fmt.Fprintf(out, "last roll:        %s\n", st.LastRollTimestamp.UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "roll due:         %t\n", st.RollDue(time.Now()))
		return nil
	},
}

var solvencyCmd = &cobra.Command{
	Use:   "solvency <asset>",
	Short: "Compare recorded and actual premium balances",
	Long:  "Compare the vault's recorded premium balance with its token account. With --fix a shortfall is transferred from the funding account even when auto reconcile is disabled.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := findVault(args[0]); err != nil {
			return err
		}
		client := vault.NewHTTPClient(cfg.Chain.BaseURL, cfg.Chain.Timeout, log)
		reconciler := solvency.NewReconciler(client, guard.NewRateLimiter(0, nil), solvency.Options{
			AutoReconcile:  cfg.Keeper.AutoReconcileValue(),
			FundingAccount: cfg.Keeper.FundingAccount,
		}, metrics.NewNoop(), log)

		var (
			report solvency.Report
			err    error
		)
		if solvencyFix {
			report, err = reconciler.Fix(cmd.Context(), args[0])
		} else {
			report, err = reconciler.Check(cmd.Context(), args[0])
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "recorded:   %d\n", report.Recorded)
		fmt.Fprintf(out, "actual:     %d\n", report.Actual)
		fmt.Fprintf(out, "shortfall:  %d\n", report.Shortfall)
		fmt.Fprintf(out, "healthy:    %t\n", report.Healthy)
		if report.Signature != "" {
			fmt.Fprintf(out, "transfer:   %s\n", report.Signature)
		}
		return err
	},
}

func init() {
	solvencyCmd.Flags().BoolVar(&solvencyFix, "fix", false, "Transfer any shortfall from the funding account")
}

func findVault(assetID string) (config.VaultConfig, error) {
	for _, v := range cfg.Vaults {
		if v.AssetID == assetID {
			return v, nil
		}
	}
	return config.VaultConfig{}, fmt.Errorf("vault %q is not configured", assetID)
}
