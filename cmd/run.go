package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/contestflow/config"
	"github.com/davidroman0O/contestflow/engine"
	"github.com/davidroman0O/contestflow/workflow"
)

var (
	runParallel    bool
	runMaxWorkers  int
	runNodeTimeout time.Duration
	runLedgerOut   string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Execute a workflow",
	Long: `Loads the workflow file, builds its dependency graph and executes it.
Flags given on the command line override the engine block of the file.
The command exits non-zero when any step fails without allow_failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := commandLogger(cmd)

		wf, err := config.Load(args[0])
		if err != nil {
			return err
		}
		opts := wf.Options
		applyEngineFlags(cmd, &opts)
		opts.Logger = logger

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		drivers, release, err := openDrivers(ctx, logger)
		if err != nil {
			return err
		}
		defer release()

		e, err := engine.New(drivers, opts)
		if err != nil {
			return err
		}
		plan, err := e.Plan(wf.Steps)
		if err != nil {
			return err
		}
		logger.Info("Running workflow %q: %d nodes in %d levels", wf.Name, plan.Graph.Len(), len(plan.Graph.Levels()))

		res, runErr := e.Run(ctx, plan)
		fmt.Fprintln(cmd.OutOrStdout(), workflow.FormatResult(res))

		if runLedgerOut != "" {
			if err := writeLedger(e, runLedgerOut); err != nil {
				logger.Error("Failed to write ledger: %v", err)
			}
		}
		if runErr != nil {
			return runErr
		}
		if res != nil && !res.Success {
			return fmt.Errorf("workflow %q failed", wf.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "Run the nodes of a level concurrently")
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 0, "Concurrent nodes per level in parallel mode (0 = level width)")
	runCmd.Flags().DurationVar(&runNodeTimeout, "node-timeout", 0, "Default per-attempt timeout for steps without their own")
	runCmd.Flags().StringVar(&runLedgerOut, "ledger-out", "", "Write the run ledger as JSON to this file")
	addDriverFlags(runCmd)
}

// applyEngineFlags overrides only the flags the user actually set
func applyEngineFlags(cmd *cobra.Command, opts *engine.Options) {
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		opts.Parallel = runParallel
	}
	if flags.Changed("max-workers") {
		opts.MaxWorkers = runMaxWorkers
	}
	if flags.Changed("node-timeout") {
		opts.NodeTimeout = runNodeTimeout
	}
}

func writeLedger(e *engine.Engine, path string) error {
	data, err := e.Ledger().Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
