package main

import (
	"fmt"
	"sort"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/dataset"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var statsCmd = &cobra.Command{
	Use:   "stats LOCATOR",
	Short: "Summarize raw prompt lengths of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	ds, err := s.open(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	lengths := make([]float64, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		ex, err := ds.GetContext(cmd.Context(), i)
		if err != nil {
			return err
		}
		lengths = append(lengths, float64(len(ex[dataset.KeyRawPromptIDs].([]int))))
	}

	summary := summarize(lengths)
	fmt.Fprintf(cmd.OutOrStdout(), "count\t%d\nmean\t%.2f\np50\t%.0f\np95\t%.0f\nmax\t%.0f\n",
		summary.Count, summary.Mean, summary.P50, summary.P95, summary.Max)
	return nil
}

type lengthSummary struct {
	Count          int
	Mean, P50, P95 float64
	Max            float64
}

func summarize(lengths []float64) lengthSummary {
	if len(lengths) == 0 {
		return lengthSummary{}
	}
	sorted := append([]float64(nil), lengths...)
	sort.Float64s(sorted)
	return lengthSummary{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:   floats.Max(sorted),
	}
}
