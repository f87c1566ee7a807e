package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "restaurant-intel",
	Short: "Restaurant business-intelligence extraction pipeline",
	Long:  "Crawls a restaurant's web presence, cross-references a places directory, and synthesizes a canonical business record plus an optional strategic analysis.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if noStrategic, _ := cmd.Flags().GetBool("no-strategic"); noStrategic {
			cfg.Pipeline.EnableStrategicAnalysis = false
		}
		if noSelective, _ := cmd.Flags().GetBool("no-selective"); noSelective {
			cfg.Selective.Enabled = false
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("no-strategic", false, "skip the strategic analysis stage even if it is configured on")
	rootCmd.PersistentFlags().Bool("no-selective", false, "skip selective browsing (C7) even if a field is missing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
