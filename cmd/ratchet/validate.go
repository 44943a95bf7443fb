package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ratchet/internal/config"
	"ratchet/internal/coordinator"
	"ratchet/internal/workerpool"
)

func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <task>",
		Short: "Compile a task's script and schemas without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(*configPath, args[0])
		},
	}
}

// runValidate resolves taskRef through the same catalog serve uses,
// boots a single transient worker to compile it (only the worker process
// embeds the script runtime), and reports the diagnostic. Grounded on
// spec §4.4's validate_task: "compile, don't execute".
func runValidate(configPath, taskRef string) error {
	cfg, _, err := config.Load(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	catalog, _ := buildCatalog(cfg)

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	poolMgr := workerpool.NewManager(workerpool.Config{
		WorkerCount:    1,
		WorkerCommand:  exePath,
		StartupTimeout: cfg.StartupTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := poolMgr.Start(ctx); err != nil {
		return fmt.Errorf("start validation worker: %w", err)
	}
	defer poolMgr.Shutdown(5 * time.Second)

	coord := coordinator.New(coordinator.Config{
		DefaultTaskTimeout: cfg.DefaultTaskTimeout,
		GlobalMaxTimeout:   cfg.GlobalMaxTimeout,
	}, catalog, poolAdapter{mgr: poolMgr}, nil)

	outcome, err := coord.ValidateTask(ctx, taskRef)
	if err != nil {
		return fmt.Errorf("validate %s: %w", taskRef, err)
	}
	if outcome.Valid {
		fmt.Printf("%s: valid\n", taskRef)
		return nil
	}
	fmt.Printf("%s: invalid\n%s\n", taskRef, outcome.Diagnostics)
	return fmt.Errorf("validation failed")
}
