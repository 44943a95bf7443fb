// Command ratchet is the Ratchet binary: the same executable acts as the
// coordinator process (`ratchet serve`), a spawned worker process
// (`ratchet --worker --worker-id <id>`), and a one-shot validation CLI
// (`ratchet validate <task>`), matching spec §4.3's contract that the
// Worker Process Manager spawns workers by re-invoking its own binary.
// Grounded on the teacher's cmd/cobra_cli.go root-command/subcommand
// shape, thinned to a bootstrap-delegate main per cmd/alex-server/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ratchet: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "ratchet",
		Short: "Ratchet task-execution platform",
		Long: `Ratchet runs short-lived, schema-validated scripts in sandboxed
worker processes, coordinating them over a framed IPC transport and
exposing them through MCP and a REST façade.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	// Worker mode is detected by flag rather than a subcommand: the
	// Worker Process Manager re-execs this same binary with
	// `--worker --worker-id <id>` appended to argv (see
	// internal/worker/process.go Start), and must reach runWorker
	// before cobra tries to parse positional args as a different
	// subcommand.
	var workerMode bool
	var workerID string
	root.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run as a worker process (internal use)")
	root.PersistentFlags().StringVar(&workerID, "worker-id", "", "Worker ID (internal use, requires --worker)")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		if workerMode {
			return runWorker(workerID)
		}
		return cmd.Help()
	}

	root.AddCommand(newServeCommand(&configPath, &verbose))
	root.AddCommand(newValidateCommand(&configPath))

	return root
}
