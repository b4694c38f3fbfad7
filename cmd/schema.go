package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/contestflow/ledger"
)

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of ledger records written by run --ledger-out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ledger.Schema())
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
