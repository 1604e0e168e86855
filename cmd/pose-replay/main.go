// Package main provides pose-replay, a CLI that runs recorded keypoint
// frames through the landmark pipeline.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pose.report/internal/config"
	"github.com/banshee-data/pose.report/internal/pose/pipeline"
	"github.com/banshee-data/pose.report/internal/version"
)

type runOptions struct {
	configPath string
	inputPath  string
	outputPath string
	logLevel   string
	summary    bool
}

func main() {
	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pose-replay",
		Short:         "Replay keypoint frames through the landmark pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a JSONL file of frames and write one output per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplayCmd(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", envOr(envConfig, config.DefaultConfigPath), "tuning config file (.json, .toml or .yaml)")
	cmd.Flags().StringVar(&opts.inputPath, "input", "-", "input JSONL frames, - for stdin")
	cmd.Flags().StringVar(&opts.outputPath, "output", "-", "output JSONL, - for stdout")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", envOr(envLogLevel, "ops"), "log streams on stderr: none, ops, diag or trace")
	cmd.Flags().BoolVar(&opts.summary, "summary", true, "print a run summary to stderr")
	return cmd
}

func runReplayCmd(cmd *cobra.Command, opts *runOptions) error {
	if err := configureLogging(opts.logLevel, cmd.ErrOrStderr()); err != nil {
		return err
	}
	tc, err := config.LoadTuningConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := pipeline.ConfigFromTuning(tc)
	if err != nil {
		return fmt.Errorf("failed to build pipeline config: %w", err)
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if opts.inputPath != "-" {
		f, err := os.Open(opts.inputPath)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	out := cmd.OutOrStdout()
	if opts.outputPath != "-" {
		f, err := os.Create(opts.outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to close output: %v\n", cerr)
			}
		}()
		out = f
	}

	sum, err := replay(cmd.Context(), p, in, out)
	if err != nil {
		return err
	}
	if opts.summary {
		sum.write(cmd.ErrOrStderr(), p.Stats())
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a tuning config and print the resulting levels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc, err := config.LoadTuningConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg, err := pipeline.ConfigFromTuning(tc)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: ok\n", configPath)
			fmt.Fprintf(w, "cache: strategy=%s max_size=%d compression=%t\n", cfg.Cache.Strategy, cfg.Cache.MaxSize, cfg.Cache.EnableCompression)
			fmt.Fprintf(w, "scheduler: max_processing_time=%s parallel=%t\n", cfg.Scheduler.MaxProcessingTime, cfg.Scheduler.EnableParallelProcessing)
			fmt.Fprintf(w, "smoothing: mode=%s kalman=%t outliers=%t weighted=%t\n", cfg.Smoothing.Mode, cfg.Smoothing.EnableKalman, cfg.Smoothing.EnableOutlierDetection, cfg.Smoothing.EnableWeightedAverage)
			levels := cfg.Levels
			sort.SliceStable(levels, func(i, j int) bool { return levels[i].Priority < levels[j].Priority })
			for _, l := range levels {
				fmt.Fprintf(w, "level %d %-12s keypoints=%-2d budget=%-5s skippable=%t parallel=%t\n",
					l.Priority, l.Name, len(l.KeypointIDs), l.Budget, l.Skippable, l.ParallelSafe)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", envOr(envConfig, config.DefaultConfigPath), "tuning config file (.json, .toml or .yaml)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pose-replay %s\n", version.String())
		},
	}
}
