package main

import (
	"fmt"
	"sort"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/dataset"

	"github.com/spf13/cobra"
)

var collateBatch int

var collateCmd = &cobra.Command{
	Use:   "collate LOCATOR",
	Short: "Build the first batch and print its tensor shapes",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollate,
}

func init() {
	collateCmd.Flags().IntVarP(&collateBatch, "batch", "b", 0, "batch size (default from loader.batch_size)")
}

func runCollate(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	ds, err := s.open(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	loaderCfg := s.cfg.Loader
	if collateBatch > 0 {
		loaderCfg.BatchSize = collateBatch
	}
	b, err := dataset.NewLoaderFromConfig(ds, loaderCfg).Next(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "batch\t%d\n", b.Size)
	for _, key := range sortedKeys(b.Tensors) {
		fmt.Fprintf(out, "%s\t%v\n", key, b.Tensors[key].Shape())
	}
	for _, key := range sortedKeys(b.Objects) {
		fmt.Fprintf(out, "%s\tobject[%d]\n", key, len(b.Objects[key]))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
