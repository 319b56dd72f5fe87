package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/factotum-dev/factotum/internal/ai"
	"github.com/factotum-dev/factotum/internal/config"
	"github.com/factotum-dev/factotum/internal/history"
	"github.com/factotum-dev/factotum/internal/refine"
)

var runCmd = &cobra.Command{
	Use:   "run [topic]",
	Short: "Refine a research topic from the command line",
	Long: `Run one refinement loop for the given topic and print the final
fact-checked research.

Each iteration performs a research pass and a fact-check pass. The loop
stops at --iterations round trips, or earlier when --probe is set and the
fact-check stage reports confidence at or above --threshold.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		topic := args[0]

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		refCfg := cfg.Refinement()
		if cmd.Flags().Changed("iterations") {
			refCfg.MaxIterations, _ = cmd.Flags().GetInt("iterations")
		}
		if cmd.Flags().Changed("threshold") {
			refCfg.ConfidenceThreshold, _ = cmd.Flags().GetFloat64("threshold")
		}
		if cmd.Flags().Changed("probe") {
			refCfg.ConfidenceProbe, _ = cmd.Flags().GetBool("probe")
		}
		if err := refCfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		client, err := ai.NewClient(cfg.Client())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orch := refine.New(client, slog.Default())
		result, err := orch.Run(ctx, topic, refCfg)
		if err != nil {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s Refinement failed: %v\n", red("✗"), err)
			os.Exit(1)
		}

		if cfg.HistoryPath != "" {
			store, err := history.Open(cfg.HistoryPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not open run history: %v\n", err)
			} else {
				defer store.Close()
				if err := store.Record(ctx, result, client.Model()); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not record run: %v\n", err)
				}
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Refined %q in %d iteration(s) (%v)\n",
			green("✓"), result.Topic, result.Iterations, result.Elapsed.Round(time.Millisecond))
		if result.Confidence != nil {
			fmt.Printf("  confidence: %.2f\n", *result.Confidence)
		}
		fmt.Println()
		fmt.Println(result.Research)
	},
}

func init() {
	runCmd.Flags().Int("iterations", 0, "Maximum research+fact-check round trips")
	runCmd.Flags().Float64("threshold", 0, "Confidence threshold for early exit")
	runCmd.Flags().Bool("probe", false, "Ask the fact-check stage for a confidence estimate")
	rootCmd.AddCommand(runCmd)
}
