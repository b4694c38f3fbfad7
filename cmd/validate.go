package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/contestflow/config"
	"github.com/davidroman0O/contestflow/request"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <workflow-file>",
	Short: "Check a workflow file without executing anything",
	Long: `Decodes the workflow, checks the retry policy and engine options, infers
dependencies, rejects cycles and conflicting writers, and builds the request
for every node.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := config.Load(args[0])
		if err != nil {
			return err
		}
		if err := wf.Options.Validate(); err != nil {
			return err
		}
		_, g, err := buildGraph(wf.Steps)
		if err != nil {
			return err
		}

		leaves := 0
		for _, n := range g.Nodes() {
			timeout := n.Step.Timeout
			if timeout == 0 {
				timeout = wf.Options.NodeTimeout
			}
			req, err := request.FromStep(n.Step, timeout)
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			leaves += req.CountLeaves()
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, %d operations, %d levels)\n",
			args[0], g.Len(), leaves, len(g.Levels()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
