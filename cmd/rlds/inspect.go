package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var inspectIndex int

var inspectCmd = &cobra.Command{
	Use:   "inspect LOCATOR",
	Short: "Print one processed example as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectIndex, "index", "i", 0, "record index to transform")
}

func runInspect(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	ds, err := s.open(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ex, err := ds.GetContext(cmd.Context(), inspectIndex)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ex)
}
