package main

import (
	"context"
	"fmt"
	"io"
	"os"

	internal "github.com/ZanzyTHEbar/rlhf-datasets/rlds"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/config"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/dataset"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	verbose     bool
	dumpMetrics bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   internal.DefaultAppName,
	Short: "Prepare RLHF prompt datasets for training",
	Long: `rlds loads prompt datasets from local files, object storage or a remote
dataset server and turns each record into fixed-length, left-padded model
inputs.

Examples:
  rlds inspect data/train.jsonl --index 3
  rlds stats org/geometry@test
  rlds collate s3://datasets/geo/train.jsonl --batch 16`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/rlds and ~/.config/rlds)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false, "print collected metrics to stderr when done")

	rootCmd.AddCommand(inspectCmd, statsCmd, collateCmd)
}

// session bundles what every subcommand needs.
type session struct {
	cfg        *config.Config
	logger     zerolog.Logger
	registry   prometheus.Gatherer
	metrics    *metrics.Collector
	metricsOut io.Writer
}

func newSession() (*session, error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := internal.GetLogger().Level(level).With().Str("run_id", uuid.NewString()).Logger()

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, registry: reg, metrics: m, metricsOut: os.Stderr}, nil
}

func (s *session) open(ctx context.Context, locator string) (*dataset.Dataset, error) {
	s.logger.Info().Str("locator", locator).Msg("Opening dataset")
	ds, err := dataset.Open(ctx, s.cfg, locator, s.metrics, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("records", ds.Len()).Msg("Dataset ready")
	return ds, nil
}

// close prints metrics when requested. Failures are logged.
func (s *session) close() {
	if !dumpMetrics {
		return
	}
	if err := writeMetrics(s.metricsOut, s.registry); err != nil {
		s.logger.Error().Err(err).Msg("Failed to dump metrics")
	}
}

// writeMetrics writes every gathered family in the text exposition format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, f := range families {
		if _, err := expfmt.MetricFamilyToText(w, f); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}
