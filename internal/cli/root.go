// Package cli implements keeperctl, the operator tool for inspecting vaults
// without running the keeper loops.
package cli

import (
	"fmt"
	"os"

	"optionsfi-keeper/internal/config"
	"optionsfi-keeper/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
	envFile  string

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "keeperctl",
	Short:         "Inspect and repair covered-call vaults",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg != nil {
			return nil
		}
		if err := config.LoadEnv(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
		}
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		loaded.Log.Encoding = "console"
		cfg = loaded
		log = logging.New(cfg.Log)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "internal/config/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Optional dotenv file")

	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(solvencyCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(quoteCmd)
}
