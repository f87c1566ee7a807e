package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/model"
)

var (
	runURL         string
	runNameHint    string
	runAddressHint string
)

// runOutput is the JSON envelope printed to stdout: the canonical
// record and, when enabled, the strategic analysis riding alongside it.
type runOutput struct {
	Record   *model.FinalRecord       `json:"record"`
	Strategy *model.StrategicAnalysis `json:"strategic_analysis,omitempty"`
}

func writeRunResult(w io.Writer, result *runOutput) error {
	zap.L().Info("extraction complete",
		zap.String("target_url", result.Record.TargetURL),
		zap.String("overall_status", string(result.Record.ExtractionMetadata.OverallStatus)),
		zap.Float64("quality", result.Record.ExtractionMetadata.FinalQualityScore),
		zap.Float64("cost_usd", result.Record.ExtractionMetadata.TotalCost),
	)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one extraction against a restaurant's website",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := model.DefaultOptions()
		opts.RestaurantNameHint = runNameHint
		opts.AddressHint = runAddressHint
		opts.EnableStrategicAnalysis = cfg.Pipeline.EnableStrategicAnalysis
		opts.SelectiveBrowsing.Enabled = cfg.Selective.Enabled
		opts.PhaseGates = model.PhaseGates{T1: cfg.Pipeline.GateT1, T2: cfg.Pipeline.GateT2, T3: cfg.Pipeline.GateT3}
		opts.Budgets = model.Budgets{
			MaxWallTimeS:          cfg.Pipeline.MaxWallTimeS,
			MaxCost:               cfg.Pipeline.MaxCostUSD,
			ConsecutiveFailureCap: cfg.Pipeline.ConsecutiveFailureCap,
		}
		opts.Crawler = model.CrawlerOptions{
			MaxPages:     cfg.Crawler.MaxPages,
			MaxDepth:     cfg.Crawler.MaxDepth,
			MaxWallTimeS: float64(cfg.Crawler.MaxWallTimeS),
		}
		opts.Vision = model.VisionOptions{MaxPDFPages: cfg.Vision.MaxPDFPages}

		record, analysis, err := env.Orchestrator.Run(ctx, runURL, opts)
		if err != nil {
			return eris.Wrap(err, "run extraction")
		}

		return writeRunResult(os.Stdout, &runOutput{Record: record, Strategy: analysis})
	},
}

func init() {
	runCmd.Flags().StringVar(&runURL, "url", "", "restaurant website URL (required)")
	runCmd.Flags().StringVar(&runNameHint, "name-hint", "", "known restaurant name, improves the places-directory lookup")
	runCmd.Flags().StringVar(&runAddressHint, "address-hint", "", "known address, improves the places-directory lookup")
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}
