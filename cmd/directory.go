package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/marx-cli/internal/directory"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Inspect the contract directory workbook",
}

var directoryLookupCmd = &cobra.Command{
	Use:   "lookup <contract_code>",
	Short: "Show the carrier and plan type for a contract code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := directory.New(directory.XLSXLoader{Path: cfg.Directory.Path, SheetName: cfg.Directory.Sheet})

		carrier, planType, err := dir.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if carrier == "" && planType == "" {
			fmt.Fprintf(os.Stderr, "No entry for contract %s (%d contracts loaded).\n", args[0], dir.Len())
			return eris.Errorf("contract %s not found", args[0])
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Contract:  %s\nCarrier:   %s\nPlan type: %s\n", args[0], carrier, planType)
		return nil
	},
}

func init() {
	directoryCmd.AddCommand(directoryLookupCmd)
	rootCmd.AddCommand(directoryCmd)
}
